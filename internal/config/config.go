package config

import (
	"encoding/json"
	"os"

	"msx-grid-bot-go/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	// 环境变量优先于配置文件，便于部署时覆盖
	if v := os.Getenv("MSX_API_URL"); v != "" {
		config.APIURL = v
	}
	if v := os.Getenv("MSX_WS_URL"); v != "" {
		config.WSURL = v
	}
	if v := os.Getenv("MSX_LISTEN_ADDR"); v != "" {
		config.ListenAddr = v
	}

	return config, nil
}
