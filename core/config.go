package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string
		Build            string
		AppName          string
		Debug            bool
		TestMode         bool
		WorkDir          string
		FrontendBaseURL  string
		RollbarToken     string
		SendgridApiKey   string
		defaultFromEmail string

		Server     ServerConfig
		Database   DatabaseConfig
		Attendance AttendanceConfig
		Jobs       JobsConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		SecretKey                 string
		DisableReqLogs            bool
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	DatabaseConfig struct {
		Engine         string // postgres | sqlite
		Host           string
		Port           string
		Name           string
		User           string
		Password       string
		AdminUser      string
		AdminPassword  string
		DisableTLS     bool
		SQLitePath     string
		PersistTimeout time.Duration
		Disabled       bool // in-memory only, nothing is persisted
	}

	AttendanceConfig struct {
		// AtRiskThreshold is the confirmation ratio under which a route close to departure is flagged.
		AtRiskThreshold float64
		// AtRiskWindow is how long before departure a route starts being evaluated.
		AtRiskWindow time.Duration
	}

	JobsConfig struct {
		Enabled          bool
		OverdueSweepSpec string
		MaintenanceSpec  string
	}
)

func (c DatabaseConfig) Address() string {
	return c.Host + ":" + c.Port
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

// NewConfig loads the app configuration from defaults, the optional `config/.env.<env>` file and the environment.
// env vars are prefixed with the upper-cased ENV value, eg: DEV_DATABASE_ENGINE=sqlite
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "Shuttle")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("server.disableReqLogs", false)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("server.passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	v.SetDefault("database.engine", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "shuttle")
	v.SetDefault("database.user", "shuttle")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.sqlitePath", "shuttle.db")
	v.SetDefault("database.persistTimeout", 3*time.Second)
	v.SetDefault("database.disabled", false)

	v.SetDefault("attendance.atRiskThreshold", 0.5)
	v.SetDefault("attendance.atRiskWindow", 30*time.Minute)

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.overdueSweepSpec", "@daily")
	v.SetDefault("jobs.maintenanceSpec", "0 6 * * *")

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd := getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:              env,
		Build:            v.GetString("build"),
		AppName:          v.GetString("appName"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		WorkDir:          wd,
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			SecretKey:                 v.GetString("server.secretKey"),
			DisableReqLogs:            v.GetBool("server.disableReqLogs"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			PasswordResetTimeoutDelta: v.GetDuration("server.passwordResetTimeoutDelta"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Engine:         v.GetString("database.engine"),
			Host:           v.GetString("database.host"),
			Port:           v.GetString("database.port"),
			Name:           v.GetString("database.name"),
			User:           v.GetString("database.user"),
			Password:       v.GetString("database.password"),
			AdminUser:      v.GetString("database.adminUser"),
			AdminPassword:  v.GetString("database.adminPassword"),
			DisableTLS:     v.GetBool("database.disableTLS"),
			SQLitePath:     v.GetString("database.sqlitePath"),
			PersistTimeout: v.GetDuration("database.persistTimeout"),
			Disabled:       v.GetBool("database.disabled"),
		},
		Attendance: AttendanceConfig{
			AtRiskThreshold: v.GetFloat64("attendance.atRiskThreshold"),
			AtRiskWindow:    v.GetDuration("attendance.atRiskWindow"),
		},
		Jobs: JobsConfig{
			Enabled:          v.GetBool("jobs.enabled"),
			OverdueSweepSpec: v.GetString("jobs.overdueSweepSpec"),
			MaintenanceSpec:  v.GetString("jobs.maintenanceSpec"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests: no DB, no jobs, no external services.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		AppName:          "Shuttle",
		Debug:            false,
		TestMode:         true,
		defaultFromEmail: "noreply@localhost",
		Server: ServerConfig{
			Host:                      "localhost",
			SecretKey:                 "secret",
			DisableReqLogs:            true,
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
			ShutdownTimeout:           time.Second,
		},
		Database: DatabaseConfig{Disabled: true, PersistTimeout: time.Second},
		Attendance: AttendanceConfig{
			AtRiskThreshold: 0.5,
			AtRiskWindow:    30 * time.Minute,
		},
	}
}

// getwd returns the directory holding go.mod when run from within the module (tests run from package dirs),
// falling back to the current working directory.
func getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	currDir := wd
	for {
		if _, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}
