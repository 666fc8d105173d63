package processor

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/durable-consumer/durable-consumer/internal/config"
	"github.com/durable-consumer/durable-consumer/pkg/errors"
)

// mysqlProcessor 以消息内容为参数执行配置的语句
type mysqlProcessor struct {
	db        *sql.DB
	statement string
	log       *zap.Logger
}

// sqlError 服务端返回的错误，死信中按MySQL错误分类
type sqlError struct {
	err *mysql.MySQLError
}

func (e *sqlError) Error() string    { return e.err.Error() }
func (e *sqlError) Unwrap() error    { return e.err }
func (e *sqlError) Category() string { return "MySQLError" }

func newMySQL(cfg config.ProcessorConfig, log *zap.Logger) (Processor, error) {
	mc := cfg.MySQL

	dsn := mysql.NewConfig()
	dsn.Net = "tcp"
	dsn.Addr = mc.Addr
	dsn.DBName = mc.Database
	dsn.User = mc.User
	dsn.Passwd = mc.Password
	dsn.Timeout = time.Duration(mc.Timeout) * time.Second
	dsn.ReadTimeout = dsn.Timeout
	dsn.WriteTimeout = dsn.Timeout

	log.Info("connecting to mysql",
		zap.String("addr", mc.Addr),
		zap.String("database", mc.Database),
	)

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, err
	}

	// 设置连接池参数
	conns := mc.MaxConns
	if conns <= 0 {
		conns = 1
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)

	return &mysqlProcessor{db: db, statement: mc.Statement, log: log}, nil
}

func (p *mysqlProcessor) Process(ctx context.Context, value []byte) error {
	if _, err := p.db.ExecContext(ctx, p.statement, string(value)); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) {
			return &sqlError{err: me}
		}
		return errors.Wrap(errors.ErrCodeProcessFailed, "failed to execute statement", err)
	}
	return nil
}

func (p *mysqlProcessor) Close() error {
	return p.db.Close()
}
