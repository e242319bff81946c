package config

// MediaConfig contains upload limits and the storage backend for
// user-supplied images and videos. Only one backend may be enabled.
type MediaConfig struct {
	MaxImageSize    string            `yaml:"max_image_size" mapstructure:"max_image_size"`
	MaxImageDim     int               `yaml:"max_image_dimension" mapstructure:"max_image_dimension"`
	MaxImagePixels  int               `yaml:"max_image_pixels" mapstructure:"max_image_pixels"`
	MaxVideoSize    string            `yaml:"max_video_size" mapstructure:"max_video_size"`
	MaxDatabaseSize string            `yaml:"max_database_size" mapstructure:"max_database_size"`
	Local           *LocalMediaConfig `yaml:"local,omitempty" mapstructure:"local"`
	S3              *S3MediaConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
}

// LocalMediaConfig stores uploads on the local filesystem and serves them
// under PublicPrefix.
type LocalMediaConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir          string `yaml:"dir" mapstructure:"dir"`
	PublicPrefix string `yaml:"public_prefix" mapstructure:"public_prefix"`
	// Owner is an optional "UID:GID" applied to written files.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// S3MediaConfig stores uploads in an S3-compatible bucket.
type S3MediaConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	PublicBaseURL   string `yaml:"public_base_url" mapstructure:"public_base_url"`
}
