package sqlite

type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
}

func (c *Config) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"path": c.Path,
	}
}
