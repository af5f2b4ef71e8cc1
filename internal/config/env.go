package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv reads settings that have no dedicated CLI flag: accounts
// declared as SWARM_SYNC_ACCOUNT_<ID>=<user uri>, API keys declared as
// SWARM_SYNC_API_KEYS_<CLIENT>=<key>, and ISO-8601 or size suffixed forms of
// duration and size settings.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return nil
	}

	var err error
	if err = applyDurationEnv("SWARM_SYNC_CACHE_TTL_ISO", &c.CacheTTL); err != nil {
		return err
	}
	if err = applyDurationEnv("SWARM_SYNC_ANOMALY_THRESHOLD_ISO", &c.AnomalyThreshold); err != nil {
		return err
	}
	if raw := strings.TrimSpace(os.Getenv("SWARM_SYNC_LOCAL_CACHE_SIZE")); raw != "" {
		size, parseErr := ParseMemorySize(raw)
		if parseErr != nil {
			return fmt.Errorf("invalid SWARM_SYNC_LOCAL_CACHE_SIZE: %w", parseErr)
		}
		c.LocalCacheMaxCost = size
	}
	if err = applyBoolEnv("SWARM_SYNC_AUTO_CREATE_ACCOUNTS", &c.AutoCreateAccounts); err != nil {
		return err
	}

	if c.Accounts == nil {
		c.Accounts = map[string]string{}
	}
	for id, user := range loadAccountsFromEnv() {
		c.Accounts[id] = user
	}
	if c.APIKeys == nil {
		c.APIKeys = map[string]string{}
	}
	for key, client := range loadAPIKeysFromEnv() {
		c.APIKeys[key] = client
	}
	return nil
}

// loadAPIKeysFromEnv scans SWARM_SYNC_API_KEYS_<CLIENT>=<key>[,<key>...].
func loadAPIKeysFromEnv() map[string]string {
	const prefix = "SWARM_SYNC_API_KEYS_"
	result := map[string]string{}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		name, keys, ok := strings.Cut(env[len(prefix):], "=")
		client := strings.ToLower(strings.TrimSpace(name))
		if !ok || client == "" {
			continue
		}
		for _, key := range strings.Split(keys, ",") {
			if key = strings.TrimSpace(key); key != "" {
				result[key] = client
			}
		}
	}
	return result
}

// loadAccountsFromEnv scans SWARM_SYNC_ACCOUNT_<ID>=<user uri>.
func loadAccountsFromEnv() map[string]string {
	const prefix = "SWARM_SYNC_ACCOUNT_"
	result := map[string]string{}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		eqIdx := strings.IndexByte(env, '=')
		if eqIdx < 0 {
			continue
		}
		id := strings.ToLower(strings.TrimSpace(env[len(prefix):eqIdx]))
		user := strings.TrimSpace(env[eqIdx+1:])
		if id == "" || user == "" {
			continue
		}
		result[id] = user
	}
	return result
}

// ParseAccounts parses "id=uri,id=uri" account declarations.
func ParseAccounts(raw string) (map[string]string, error) {
	result := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, user, ok := strings.Cut(pair, "=")
		id, user = strings.TrimSpace(id), strings.TrimSpace(user)
		if !ok || id == "" || user == "" {
			return nil, fmt.Errorf("invalid account %q: expected id=uri", pair)
		}
		result[id] = user
	}
	return result, nil
}

func applyBoolEnv(key string, dest *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

// ParseDuration accepts Go durations (30s, 5m) and ISO-8601 PT#H#M#S.
func ParseDuration(raw string) (time.Duration, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(strings.ToLower(v)); err == nil {
		return d, nil
	}
	if !strings.HasPrefix(v, "PT") {
		return 0, fmt.Errorf("unsupported format %q", raw)
	}
	rest := strings.TrimPrefix(v, "PT")
	if rest == "" {
		return 0, fmt.Errorf("invalid format %q", raw)
	}
	total := time.Duration(0)
	for len(rest) > 0 {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i >= len(rest) {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		switch rest[i] {
		case 'H':
			total += time.Duration(n) * time.Hour
		case 'M':
			total += time.Duration(n) * time.Minute
		case 'S':
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		rest = rest[i+1:]
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}

// ParseMemorySize parses sizes like "64M", "512KB" or "1G".
func ParseMemorySize(raw string) (int64, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(v, "KB"), strings.HasSuffix(v, "K"):
		multiplier = 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "KB"), "K")
	case strings.HasSuffix(v, "MB"), strings.HasSuffix(v, "M"):
		multiplier = 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "MB"), "M")
	case strings.HasSuffix(v, "GB"), strings.HasSuffix(v, "G"):
		multiplier = 1024 * 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "GB"), "G")
	case strings.HasSuffix(v, "B"):
		v = strings.TrimSuffix(v, "B")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * multiplier, nil
}
