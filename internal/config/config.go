package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"tradelens/internal/logger"
)

const envPrefix = "TRADELENS"

// envKeys 可被 TRADELENS_<SECTION>_<KEY> 覆盖的键。
var envKeys = []string{
	"app.env", "app.log_level", "app.http_addr", "app.log_path", "app.db_path", "app.timezone",
	"binance.api_key", "binance.secret_key", "binance.rest_base_url",
	"binance.proxy.enabled", "binance.proxy.rest_url",
	"review.symbols", "review.start", "review.end", "review.workers", "review.mark_source",
	"review.cost_basis", "review.fees", "review.quote_asset",
	"export.dir", "chart.dir", "candles.dir",
	"notify.telegram.enabled", "notify.telegram.chat_id",
}

func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	cfg.loadCredentials(filepath.Dir(files[len(files)-1]))
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadCredentials 从 .env 与环境变量补齐 API Key，配置文件中的值优先。
func (c *Config) loadCredentials(dir string) {
	envFile := c.App.EnvFile
	if envFile != "" && !filepath.IsAbs(envFile) {
		envFile = filepath.Join(dir, envFile)
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			logger.Warnf("[config] 读取 %s 失败: %v", envFile, err)
		}
	}
	if c.Binance.APIKey == "" {
		c.Binance.APIKey = strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	}
	if c.Binance.SecretKey == "" {
		c.Binance.SecretKey = strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))
	}
	if c.Notify.Telegram.BotToken == "" {
		c.Notify.Telegram.BotToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	}
	if c.Notify.Telegram.ChatID == "" {
		c.Notify.Telegram.ChatID = strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID"))
	}
}

// Watch 监听主配置文件，变更后重新加载并回调；加载失败时保留旧配置。
func Watch(path string, onChange func(*Config)) error {
	if onChange == nil {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			logger.Errorf("[config] reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("[config] reloaded %s", evt.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func resolveConfigIncludes(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	stack := make(map[string]bool)
	files, err := collectConfigFiles(abs, seen, stack)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []string{abs}, nil
	}
	return files, nil
}

// collectConfigFiles 深度优先展开 include，被包含的文件先于包含者合并。
func collectConfigFiles(path string, seen, stack map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if stack[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if seen[path] {
		return nil, nil
	}
	stack[path] = true
	includes, err := parseIncludeList(path)
	if err != nil {
		return nil, fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	dir := filepath.Dir(path)
	var ordered []string
	for _, inc := range includes {
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(dir, inc)
		}
		sub, err := collectConfigFiles(incPath, seen, stack)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, sub...)
	}
	delete(stack, path)
	seen[path] = true
	return append(ordered, path), nil
}

func parseIncludeList(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	var items []string
	switch val := raw.(type) {
	case []any:
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include only supports strings")
			}
			items = append(items, str)
		}
	case []string:
		items = val
	case string:
		items = []string{val}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	return normalizeList(items), nil
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
