package db

import (
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestExtractUp(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"без разметки", "CREATE TABLE a (id INT);", "CREATE TABLE a (id INT);"},
		{"только up", "-- +migrate Up\nCREATE TABLE a;", "\nCREATE TABLE a;"},
		{"up и down", "-- +migrate Up\nCREATE TABLE a;\n-- +migrate Down\nDROP TABLE a;", "\nCREATE TABLE a;\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractUp(tc.content); got != tc.want {
				t.Fatalf("ожидалось %q, получили %q", tc.want, got)
			}
		})
	}
}

func TestMigrateSQLiteAppliesOnce(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_b.sql":     {Data: []byte("-- +migrate Up\nCREATE TABLE b (id INTEGER PRIMARY KEY);")},
		"m/0001_a.sql":     {Data: []byte("-- +migrate Up\nCREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"m/readme.txt":     {Data: []byte("не миграция")},
		"m/0003_empty.sql": {Data: []byte("-- +migrate Up\n-- +migrate Down\nDROP TABLE a;")},
	}
	sqlDB, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("открытие базы: %v", err)
	}
	defer sqlDB.Close()

	for i := 0; i < 2; i++ {
		if err := MigrateSQLite(sqlDB, fsys, "m"); err != nil {
			t.Fatalf("миграция, попытка %d: %v", i+1, err)
		}
	}
	var count int
	if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("подсчёт миграций: %v", err)
	}
	if count != 2 {
		t.Fatalf("ожидалось 2 применённые миграции, получили %d", count)
	}
	if _, err := sqlDB.Exec(`INSERT INTO b (id) VALUES (1)`); err != nil {
		t.Fatalf("таблица b должна существовать: %v", err)
	}
}
