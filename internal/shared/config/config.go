// Package config loads ssrgate.ini and the optional firewall.json rule
// list, the way the teacher's internal/shared/config loads liuproxy.ini
// and servers.json.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"ssrgate/internal/shared/types"
)

// LoadIni loads the behavior configuration file.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnvInt(&cfg.CommonConf.Crypt, "SSR_CRYPT_KEY")
	return nil
}

// LoadFirewallRules loads the optional priority-ordered access-policy
// rules. A missing file means "no extra rules" rather than an error.
func LoadFirewallRules(fileName string) ([]types.FirewallRule, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rules []types.FirewallRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
