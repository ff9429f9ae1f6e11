package conf

import (
	"go/build"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Args Global Application Arguments
var Args Arguments

var vp *viper.Viper

// Arguments arguments struct type
type Arguments struct {
	Logging struct {
		LogLevel    string `mapstructure:"log_level"`
		LogFilePath string `mapstructure:"log_file_path"`
	}

	Network struct {
		// Mode is either "http" (default) or "browser".
		Mode               string            `mapstructure:"mode"`
		Profile            string            `mapstructure:"profile"`
		HTTPTimeout        int               `mapstructure:"http_timeout"`
		InsecureSkipVerify bool              `mapstructure:"insecure_skip_verify"`
		Headers            map[string]string `mapstructure:"headers"`
		Cookies            map[string]string `mapstructure:"cookies"`
		RequestsPerSecond  float64           `mapstructure:"requests_per_second"`
		Burst              int               `mapstructure:"burst"`
	}

	Source struct {
		// Type is either "remote" or "file".
		Type       string `mapstructure:"type"`
		URL        string `mapstructure:"url"`
		FilePath   string `mapstructure:"file_path"`
		FileScheme string `mapstructure:"file_scheme"`
		Timeout    int    `mapstructure:"timeout"`
		Retry      int    `mapstructure:"retry"`
	}

	Probe struct {
		Enabled bool `mapstructure:"enabled"`
		Size    int  `mapstructure:"size"`
		Timeout int  `mapstructure:"timeout"`

		// EchoURL enables the relay check against an IP echo service when set.
		EchoURL string `mapstructure:"echo_url"`
	}

	Scraper struct {
		URLTemplate  string   `mapstructure:"url_template"`
		Items        []string `mapstructure:"items"`
		Concurrency  int      `mapstructure:"concurrency"`
		MaxAttempts  int      `mapstructure:"max_attempts"`
		TaskTimeout  int      `mapstructure:"task_timeout"`
		RetryDelay   int      `mapstructure:"retry_delay"`
		MaxDelay     int      `mapstructure:"max_delay"`
		SoftStatuses []int    `mapstructure:"soft_statuses"`
	}

	Challenge struct {
		Selector    string   `mapstructure:"selector"`
		Markers     []string `mapstructure:"markers"`
		BodyMarkers []string `mapstructure:"body_markers"`
	}

	Metrics struct {
		Port int `mapstructure:"port"`
	}

	WebDriver struct {
		Timeout  int  `mapstructure:"timeout"`
		Headless bool `mapstructure:"headless"`
		NoImage  bool `mapstructure:"no_image"`
	}
}

func init() {
	// .env values become plain environment variables picked up by AutomaticEnv below
	_ = godotenv.Load()

	vp = viper.New()
	setDefaults()
	vp.SetConfigName("roscrape") // name of config file (without extension)
	vp.SetConfigType("toml")
	gopath := os.Getenv("GOPATH")
	if gopath == "" {
		gopath = build.Default.GOPATH
	}
	vp.AddConfigPath(filepath.Join(gopath, "bin"))
	vp.AddConfigPath(".") // optionally look for config in the working directory
	vp.SetEnvPrefix("roscrape")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	if err := vp.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			log.Panicf("config file error: %+v", err)
		}
	}
	if err := vp.Unmarshal(&Args); err != nil {
		log.Panicf("config file error: %+v", err)
	}
	checkConfig()
}

func checkConfig() {
	if Args.Scraper.Concurrency <= 0 {
		Args.Scraper.Concurrency = 1
	}
	if Args.Scraper.MaxAttempts <= 0 {
		Args.Scraper.MaxAttempts = 1
	}
	if Args.Probe.Size <= 0 {
		Args.Probe.Size = 1
	}
	Args.Source.Type = strings.ToLower(Args.Source.Type)
	Args.Network.Mode = strings.ToLower(Args.Network.Mode)
}

func setDefaults() {
	vp.SetDefault("logging.log_level", "info")

	vp.SetDefault("network.mode", "http")
	vp.SetDefault("network.profile", "safari")
	vp.SetDefault("network.http_timeout", 30)
	vp.SetDefault("network.burst", 1)

	vp.SetDefault("source.type", "remote")
	vp.SetDefault("source.url", "https://api.proxyscrape.com/v4/free-proxy-list/get?"+
		"request=display_proxies&proxy_format=protocolipport&format=text")
	vp.SetDefault("source.file_path", "proxies.txt")
	vp.SetDefault("source.file_scheme", "http")
	vp.SetDefault("source.timeout", 20)
	vp.SetDefault("source.retry", 3)

	vp.SetDefault("probe.size", 32)
	vp.SetDefault("probe.timeout", 5)

	vp.SetDefault("scraper.url_template", "https://www.amazon.com/dp/%s")
	vp.SetDefault("scraper.items", []string{"B09LNW3CY2", "B009KYJAJY", "B0B2D77YB8", "B0D3KPGFHL"})
	vp.SetDefault("scraper.concurrency", 10)
	vp.SetDefault("scraper.max_attempts", 50)
	vp.SetDefault("scraper.task_timeout", 120)
	vp.SetDefault("scraper.max_delay", 2000)

	vp.SetDefault("challenge.selector", "h4")
	vp.SetDefault("challenge.markers", []string{"Enter the characters you see below"})
	vp.SetDefault("challenge.body_markers", []string{"/errors/validateCaptcha"})

	vp.SetDefault("webdriver.timeout", 60)
	vp.SetDefault("webdriver.headless", true)
	vp.SetDefault("webdriver.no_image", true)
}

// ConfigFileUsed returns the file used to populate the config registry.
func ConfigFileUsed() string {
	return vp.ConfigFileUsed()
}
