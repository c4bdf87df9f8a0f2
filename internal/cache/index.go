package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Record 是缓存索引中的一行，描述一个已落盘的缩略图。
type Record struct {
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Filename   string    `json:"filename"`
	Height     int       `json:"height"`
	Width      int       `json:"width"`
	SizeBytes  int64     `json:"size_bytes"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// Locator 返回记录对应的缓存定位信息。
func (r Record) Locator() Locator {
	return Locator{Name: r.Name}
}

// Index 基于 SQLite 记录缓存条目元数据，供过期、校验与淘汰使用。
type Index struct {
	db *sql.DB
}

// OpenIndex 打开（必要时创建）path 处的索引库并应用 schema。
func OpenIndex(ctx context.Context, path string) (*Index, error) {
	if path == "" {
		return nil, errors.New("index path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?"+
			"_pragma=journal_mode(WAL)&"+
			"_pragma=synchronous(NORMAL)&"+
			"_pragma=busy_timeout(10000)",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// 单连接即可满足吞吐，同时避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close 释放底层数据库连接。
func (i *Index) Close() error {
	return i.db.Close()
}

// Upsert 写入或覆盖 key 对应的记录。
func (i *Index) Upsert(ctx context.Context, rec Record) error {
	_, err := i.db.ExecContext(ctx, `insert into entries
		(key, name, filename, height, width, size_bytes, checksum, created_at, last_access)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?)
		on conflict(key) do update set
			name = excluded.name,
			filename = excluded.filename,
			height = excluded.height,
			width = excluded.width,
			size_bytes = excluded.size_bytes,
			checksum = excluded.checksum,
			created_at = excluded.created_at,
			last_access = excluded.last_access`,
		rec.Key, rec.Name, rec.Filename, rec.Height, rec.Width, rec.SizeBytes, rec.Checksum,
		rec.CreatedAt.UnixNano(), rec.LastAccess.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key, err)
	}
	return nil
}

// Lookup 查找 key 对应的记录，ok=false 表示索引中没有该条目。
func (i *Index) Lookup(ctx context.Context, key string) (rec Record, ok bool, err error) {
	row := i.db.QueryRowContext(ctx, `select key, name, filename, height, width, size_bytes,
		checksum, created_at, last_access from entries where key = ?`, key)
	rec, err = scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup %s: %w", key, err)
	}
	return rec, true, nil
}

// Touch 更新最近访问时间，淘汰按该字段从旧到新进行。
func (i *Index) Touch(ctx context.Context, key string, at time.Time) error {
	if _, err := i.db.ExecContext(ctx, `update entries set last_access = ? where key = ?`, at.UnixNano(), key); err != nil {
		return fmt.Errorf("touch %s: %w", key, err)
	}
	return nil
}

// Delete 删除 key 对应的记录，不存在时不报错。
func (i *Index) Delete(ctx context.Context, key string) error {
	if _, err := i.db.ExecContext(ctx, `delete from entries where key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// TotalSize 返回索引中所有条目的字节总数。
func (i *Index) TotalSize(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := i.db.QueryRowContext(ctx, `select sum(size_bytes) from entries`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum sizes: %w", err)
	}
	return total.Int64, nil
}

// List 按 key 排序返回全部记录。
func (i *Index) List(ctx context.Context) ([]Record, error) {
	return i.query(ctx, `select key, name, filename, height, width, size_bytes,
		checksum, created_at, last_access from entries order by key`)
}

// LeastRecentlyUsed 返回最久未访问的 limit 条记录，跳过 exclude。
func (i *Index) LeastRecentlyUsed(ctx context.Context, exclude string, limit int) ([]Record, error) {
	return i.query(ctx, `select key, name, filename, height, width, size_bytes,
		checksum, created_at, last_access from entries
		where key != ? order by last_access asc, key asc limit ?`, exclude, limit)
}

func (i *Index) query(ctx context.Context, stmt string, args ...any) ([]Record, error) {
	rows, err := i.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		createdAt  int64
		lastAccess int64
	)
	err := row.Scan(&rec.Key, &rec.Name, &rec.Filename, &rec.Height, &rec.Width,
		&rec.SizeBytes, &rec.Checksum, &createdAt, &lastAccess)
	if err != nil {
		return Record{}, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.LastAccess = time.Unix(0, lastAccess).UTC()
	return rec, nil
}
