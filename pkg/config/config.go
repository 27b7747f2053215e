package config

import (
	"fmt"
	"io"
	"os"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".memscout"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the
// config file.
type Config struct {
	// Listen is the default address the HTTP server binds to.
	Listen string `yaml:"listen"`

	// ScanMaxCandidates is the hard ceiling on the number of candidates a
	// first scan may produce before it is rejected as too large.
	ScanMaxCandidates *int `yaml:"scan-max-candidates,omitempty"`
	// ScanAlignment is the default alignment stride for first scans.
	ScanAlignment *int `yaml:"scan-alignment,omitempty"`

	// PointerMaxDepth is the default maximum number of hops in a pointer path.
	PointerMaxDepth *int `yaml:"pointer-max-depth,omitempty"`
	// PointerMaxOffset is the default maximum positive offset per hop.
	PointerMaxOffset *uint64 `yaml:"pointer-max-offset,omitempty"`
	// PointerMaxResults is the default cap on returned pointer paths.
	PointerMaxResults *int `yaml:"pointer-max-results,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for memscout.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Default listen address for 'memscout serve'.
# listen: 127.0.0.1:3030

# Hard ceiling on the candidate count a first scan may produce.
# scan-max-candidates: 10000000

# Default alignment stride for first scans.
# scan-alignment: 4

# Defaults for pointer path generation.
# pointer-max-depth: 5
# pointer-max-offset: 4096
# pointer-max-results: 1000
`)
	return err
}

func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return path.Join(home, configDir, file), nil
}
