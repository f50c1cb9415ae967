package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/lib/pq"
)

// ErrStoreUnavailable はリトライ回数を使い切ってもストアに到達できなかったことを示す。
// 呼び出し側はerrors.Isで判定し、ゼロ件の結果と混同してはならない。
var ErrStoreUnavailable = errors.New("store unavailable")

// RetryRecorder はストアのリトライ発生を記録するインターフェース。
// メトリクス収集用。nilの場合は記録しない。
type RetryRecorder interface {
	RecordStoreRetry()
}

// StoreConfig はストアアダプタの動作設定。
type StoreConfig struct {
	// MaxRetries は初回試行に追加して行うリトライ回数。
	MaxRetries int
	// Backoff はリトライ間隔の基準値。n回目のリトライ前に Backoff*n 待機する（線形）。
	Backoff time.Duration
	// QueryTimeout は1試行あたりのタイムアウト。
	QueryTimeout time.Duration
}

// DefaultStoreConfig はデフォルトのストア設定を返す。
// 一時的な接続障害に対して1秒、2秒の間隔で最大2回リトライする。
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxRetries:   2,
		Backoff:      1 * time.Second,
		QueryTimeout: 5 * time.Second,
	}
}

// Store は*sql.DBをラップし、一時的な接続障害の自動リトライと
// 1試行あたりのタイムアウト制御を提供するアダプタ。
// 認証・認可エラーは即時に失敗し、リトライしない。
// リトライを使い切った場合はErrStoreUnavailableを返す。
// 空の結果を成功として返すことは決してない。
type Store struct {
	db       *sql.DB
	config   StoreConfig
	recorder RetryRecorder
}

// NewStore はStoreを生成する。recorderはnilでもよい。
func NewStore(db *sql.DB, config StoreConfig, recorder RetryRecorder) *Store {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 5 * time.Second
	}
	return &Store{db: db, config: config, recorder: recorder}
}

// DB は内部の*sql.DBを返す。ヘルスチェック（Ping）用。
func (s *Store) DB() *sql.DB {
	return s.db
}

// ExecContext はINSERT/UPDATE/DELETE文をリトライ付きで実行する。
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, func(attemptCtx context.Context) error {
		var execErr error
		result, execErr = s.db.ExecContext(attemptCtx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// QueryRowScan は単一行クエリを実行し、結果をdestに読み込む。
// 行が存在しない場合はsql.ErrNoRowsをそのまま返す。
func (s *Store) QueryRowScan(ctx context.Context, query string, args []any, dest ...any) error {
	return s.withRetry(ctx, func(attemptCtx context.Context) error {
		return s.db.QueryRowContext(attemptCtx, query, args...).Scan(dest...)
	})
}

// Select は複数行クエリを実行し、各行に対してscanを呼び出す。
// 行の走査までを1試行に含めるため、走査中の接続断もリトライ対象になる。
func (s *Store) Select(ctx context.Context, query string, args []any, scan func(rows *sql.Rows) error) error {
	return s.withRetry(ctx, func(attemptCtx context.Context) error {
		rows, err := s.db.QueryContext(attemptCtx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// BeginTx はトランザクションを開始する。
// トランザクション内の文はリトライしない。途中で一時障害が起きた場合、
// 操作全体がErrStoreUnavailableとして失敗する（部分的な再実行はしない）。
func (s *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, s.classify(err)
	}
	return tx, nil
}

// Classify はトランザクション内などStoreを経由しない文のエラーを
// Store共通の分類（ErrStoreUnavailable等）に変換する。
func (s *Store) Classify(err error) error {
	return s.classify(err)
}

// withRetry はopを実行し、一時的な障害に対して線形バックオフでリトライする。
func (s *Store) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if s.recorder != nil {
				s.recorder.RecordStoreRetry()
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
			case <-time.After(s.config.Backoff * time.Duration(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
		err := op(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		lastErr = err

		// 親コンテキストの取り消しはリトライしても回復しない
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
		}
		if !isTransient(err) {
			return s.classify(err)
		}
	}

	return fmt.Errorf("%w: retries exhausted: %v", ErrStoreUnavailable, lastErr)
}

// classify は単発のストアエラーを共通分類へ変換する。
func (s *Store) classify(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if isAuthError(err) {
		return fmt.Errorf("store authentication failed: %w", err)
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// isAuthError はデータベースの認証・認可エラーかを判定する。
// このエラーはリトライで回復しないため即時に失敗させる。
func isAuthError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 28: invalid_authorization_specification
		return pqErr.Code.Class() == "28"
	}
	return false
}

// isTransient は一時的な接続障害（タイムアウト、接続拒否、接続断）かを判定する。
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if isAuthError(err) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		// Class 08: connection_exception
		case pqErr.Code.Class() == "08":
			return true
		// admin_shutdown / crash_shutdown / cannot_connect_now
		case pqErr.Code == "57P01" || pqErr.Code == "57P02" || pqErr.Code == "57P03":
			return true
		// too_many_connections
		case pqErr.Code == "53300":
			return true
		}
	}

	return false
}
