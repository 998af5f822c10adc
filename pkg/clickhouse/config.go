package clickhouse

import (
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Config describes one ClickHouse endpoint. Zero durations and pool sizes
// fall back to the defaults in withDefaults.
type Config struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	UseHTTP      bool
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	MaxExecTime  time.Duration
	AsyncInsert  bool
	MaxOpenConns int
	MaxIdleConns int
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 9000
		if c.UseHTTP {
			c.Port = 8123
		}
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return c
}

// options maps the config onto the driver's options. Async inserts always
// wait for the server to flush so a successful write is durable.
func (c Config) options() *clickhouse.Options {
	c = c.withDefaults()
	settings := clickhouse.Settings{}
	if c.MaxExecTime > 0 {
		settings["max_execution_time"] = int(c.MaxExecTime.Seconds())
	}
	if c.AsyncInsert {
		settings["async_insert"] = 1
		settings["wait_for_async_insert"] = 1
	}

	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", c.Host, c.Port)},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		Protocol:        clickhouse.Native,
		Settings:        settings,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: 5 * time.Minute,
	}
	if c.UseHTTP {
		opts.Protocol = clickhouse.HTTP
	}
	return opts
}
