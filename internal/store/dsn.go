package store

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
)

var pgPasswordRe = regexp.MustCompile(`(password\s*=\s*)('[^']*'|\S+)`)

// RedactDSN masks the password in dsn so it can be logged.
func RedactDSN(driver, dsn string) string {
	switch driver {
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "<unparseable dsn>"
		}
		cfg.Passwd = strings.Repeat("x", len(cfg.Passwd))
		return cfg.FormatDSN()
	case "pgx", "postgres", "postgresql":
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "xxxxx")
			}
			return u.String()
		}
		return pgPasswordRe.ReplaceAllString(dsn, "${1}xxxxx")
	default:
		return dsn
	}
}
