package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/admi-n/excavator-audit/src/internal"
)

// Dialect SQL 方言
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

var schemas = map[Dialect]string{
	DialectMySQL: `CREATE TABLE IF NOT EXISTS audits (
	id               VARCHAR(32) PRIMARY KEY,
	contract_code    MEDIUMTEXT  NOT NULL,
	contract_address VARCHAR(42) NULL,
	score            INT         NOT NULL,
	findings         JSON        NOT NULL,
	summary          TEXT        NULL,
	source           VARCHAR(16) NOT NULL,
	created_at       DATETIME(6) NOT NULL
) DEFAULT CHARSET = utf8mb4`,
	DialectPostgres: `CREATE TABLE IF NOT EXISTS audits (
	id               TEXT PRIMARY KEY,
	contract_code    TEXT        NOT NULL,
	contract_address TEXT        NULL,
	score            INTEGER     NOT NULL,
	findings         JSONB       NOT NULL,
	summary          TEXT        NULL,
	source           TEXT        NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
)`,
	DialectSQLite: `CREATE TABLE IF NOT EXISTS audits (
	id               TEXT PRIMARY KEY,
	contract_code    TEXT     NOT NULL,
	contract_address TEXT     NULL,
	score            INTEGER  NOT NULL,
	findings         TEXT     NOT NULL,
	summary          TEXT     NULL,
	source           TEXT     NOT NULL,
	created_at       DATETIME NOT NULL
)`,
}

const auditColumns = "id, contract_code, contract_address, score, findings, summary, source, created_at"

// SQLStore 基于 database/sql 的存储，表结构在打开时创建
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore 包装已打开的连接池并确保 audits 表存在
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("NewSQLStore: db is nil")
	}
	schema, ok := schemas[dialect]
	if !ok {
		return nil, fmt.Errorf("不支持的数据库方言: %s", dialect)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("创建 audits 表失败: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// placeholders 按方言生成 n 个参数占位符
func (s *SQLStore) placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		if s.dialect == DialectPostgres {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

func (s *SQLStore) Save(ctx context.Context, record *AuditRecord) error {
	rec := stamp(record)

	findings, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("序列化 findings 失败: %w", err)
	}

	var address sql.NullString
	if rec.ContractAddress != "" {
		address = sql.NullString{String: rec.ContractAddress, Valid: true}
	}

	query := fmt.Sprintf("INSERT INTO audits (%s) VALUES (%s)", auditColumns, strings.Join(s.placeholders(8), ", "))
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ContractCode,
		address,
		rec.Score,
		string(findings),
		rec.Summary,
		string(rec.Source),
		rec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrExists
		}
		return fmt.Errorf("保存审计记录失败: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*AuditRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM audits WHERE id = %s", auditColumns, s.placeholders(1)[0])

	var (
		rec      AuditRecord
		address  sql.NullString
		summary  sql.NullString
		findings string
		source   string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.ContractCode,
		&address,
		&rec.Score,
		&findings,
		&summary,
		&source,
		&rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询审计记录失败: %w", err)
	}

	if err := json.Unmarshal([]byte(findings), &rec.Findings); err != nil {
		return nil, fmt.Errorf("解析 findings 失败: %w", err)
	}
	rec.Findings = cloneFindings(rec.Findings)
	rec.ContractAddress = address.String
	rec.Summary = summary.String
	rec.Source = internal.Source(source)
	rec.CreatedAt = rec.CreatedAt.UTC()

	return &rec, nil
}

// isDuplicateKey 识别三种驱动的主键冲突错误
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
