package repository

import (
	"strings"
	"testing"

	"creditsystem/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dryRun(t *testing.T, dialector gorm.Dialector) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(dialector, &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open %s: %v", dialector.Name(), err)
	}
	return db
}

func TestRowLockClauses(t *testing.T) {
	mysqlDB := dryRun(t, mysql.New(mysql.Config{
		DSN:                       "root:root@tcp(127.0.0.1:3306)/credit?parseTime=true",
		SkipInitializeWithVersion: true,
	}))
	sqliteDB := dryRun(t, sqlite.Open(":memory:"))

	tests := []struct {
		name  string
		db    *gorm.DB
		scope func(*gorm.DB) *gorm.DB
		want  string
	}{
		{"mysql update", mysqlDB, forUpdate, "FOR UPDATE"},
		{"mysql share", mysqlDB, forShare, "FOR SHARE"},
		{"sqlite update", sqliteDB, forUpdate, ""},
		{"sqlite share", sqliteDB, forShare, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pkg model.CreditPackage
			stmt := tt.scope(tt.db).Where("id = ?", 1).First(&pkg).Statement
			sql := stmt.SQL.String()
			if tt.want == "" {
				if strings.Contains(sql, "FOR ") {
					t.Errorf("sql = %q, want no locking clause", sql)
				}
				return
			}
			if !strings.HasSuffix(sql, tt.want) {
				t.Errorf("sql = %q, want suffix %q", sql, tt.want)
			}
		})
	}
}
