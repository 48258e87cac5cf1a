// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ResQFlow/internal/models"
	"ResQFlow/pkg/util"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

// NewDB opens a migrated in-memory sqlite database private to t.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	db, err := util.OpenDatabase(&gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}, "sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Clock is a settable time source.
type Clock struct {
	now atomic.Int64
}

func NewClock(t time.Time) *Clock {
	c := &Clock{}
	c.Set(t)
	return c
}

func (c *Clock) Now() time.Time          { return time.Unix(0, c.now.Load()).UTC() }
func (c *Clock) Set(t time.Time)         { c.now.Store(t.UnixNano()) }
func (c *Clock) Advance(d time.Duration) { c.now.Add(int64(d)) }

// F64 returns a pointer to v.
func F64(v float64) *float64 { return &v }
