package config

// ConfigBackend abstracts config storage. The default is a YAML file with
// flat dotted keys; tests substitute an in-memory map.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// sinkSource is implemented by backends that can hold the structured
// notify.sinks list.
type sinkSource interface {
	Sinks() ([]SinkConfig, error)
}
