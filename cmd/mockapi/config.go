package main

import (
	"fmt"
	"time"

	"github.com/Farengier/aircon-market/internal/web"
)

type YamlConfig struct {
	Log      LogConfig       `yaml:"log"`
	Server   ServerConfig    `yaml:"server"`
	Accounts []AccountConfig `yaml:"accounts"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

type ServerConfig struct {
	Listen  string `yaml:"listen"`
	Port    int    `yaml:"port"`
	ReadTO  int    `yaml:"read_timeout"`
	WriteTO int    `yaml:"write_timeout"`
}

func (sc ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", sc.Listen, sc.Port)
}
func (sc ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(sc.ReadTO) * time.Second
}
func (sc ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(sc.WriteTO) * time.Second
}

type AccountConfig struct {
	ID           string `yaml:"id"`
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	Phone        string `yaml:"phone"`
	Status       string `yaml:"status"`
}

func (yc *YamlConfig) WebAccounts() []web.Account {
	accounts := make([]web.Account, 0, len(yc.Accounts))
	for _, a := range yc.Accounts {
		accounts = append(accounts, web.Account{
			ID:           a.ID,
			Email:        a.Email,
			PasswordHash: a.PasswordHash,
			Name:         a.Name,
			Role:         a.Role,
			Phone:        a.Phone,
			Status:       a.Status,
		})
	}
	return accounts
}
