package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/coderev/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// コメントとレビューはJSONB配列、参加者はtext[]として保存する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

const sessionColumns = `id, name, description, owner_id, participants, code, language,
	 comments, reviews, is_public, created_at, updated_at`

// scanSession は1行をmodel.Sessionに読み込む。
func scanSession(row interface {
	Scan(dest ...interface{}) error
}) (*model.Session, error) {
	s := &model.Session{}
	var comments, reviews []byte

	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.OwnerID, pq.Array(&s.Participants),
		&s.Code, &s.Language, &comments, &reviews, &s.IsPublic,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(comments, &s.Comments); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}
	if err := json.Unmarshal(reviews, &s.Reviews); err != nil {
		return nil, fmt.Errorf("failed to decode reviews: %w", err)
	}

	return s, nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`,
		id,
	)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return s, nil
}

// ListByUser はユーザーがオーナーまたは参加者であるセッション一覧を返す。
func (r *PostgresSessionRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Session, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions WHERE owner_id = $1 OR $1 = ANY(participants)`,
		userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE owner_id = $1 OR $1 = ANY(participants)
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, total, nil
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	comments, err := json.Marshal(session.Comments)
	if err != nil {
		return fmt.Errorf("failed to encode comments: %w", err)
	}
	reviews, err := json.Marshal(session.Reviews)
	if err != nil {
		return fmt.Errorf("failed to encode reviews: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, description, owner_id, participants, code, language,
		 comments, reviews, is_public, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		session.ID, session.Name, session.Description, session.OwnerID,
		pq.Array(session.Participants), session.Code, session.Language,
		comments, reviews, session.IsPublic, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Update はセッションのメタデータを更新する。
func (r *PostgresSessionRepo) Update(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET name = $2, description = $3, language = $4, is_public = $5, code = $6, updated_at = now()
		 WHERE id = $1`,
		session.ID, session.Name, session.Description, session.Language,
		session.IsPublic, session.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// AppendComment はセッションのコメント配列にコメントを追記する。
func (r *PostgresSessionRepo) AppendComment(ctx context.Context, sessionID string, comment *model.Comment) error {
	data, err := json.Marshal(comment)
	if err != nil {
		return fmt.Errorf("failed to encode comment: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET comments = comments || $2::jsonb, updated_at = now()
		 WHERE id = $1`,
		sessionID, data,
	)
	if err != nil {
		return fmt.Errorf("failed to append comment: %w", err)
	}
	return requireRowAffected(res, sessionID)
}

// AppendReview はセッションのレビュー配列にレビュー記録を追記する。
func (r *PostgresSessionRepo) AppendReview(ctx context.Context, sessionID string, review *model.ReviewRecord) error {
	data, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("failed to encode review: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET reviews = reviews || $2::jsonb, updated_at = now()
		 WHERE id = $1`,
		sessionID, data,
	)
	if err != nil {
		return fmt.Errorf("failed to append review: %w", err)
	}
	return requireRowAffected(res, sessionID)
}

// UpdateCode はセッションのコードフィールドのみを置き換える。
func (r *PostgresSessionRepo) UpdateCode(ctx context.Context, sessionID, code string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET code = $2, updated_at = now() WHERE id = $1`,
		sessionID, code,
	)
	if err != nil {
		return fmt.Errorf("failed to update session code: %w", err)
	}
	return nil
}

// AddParticipant は参加者を追加する。すでに参加済みの場合は何もしない。
func (r *PostgresSessionRepo) AddParticipant(ctx context.Context, sessionID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET participants = array_append(participants, $2), updated_at = now()
		 WHERE id = $1 AND NOT ($2 = ANY(participants))`,
		sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// RemoveParticipant は参加者を削除する。
func (r *PostgresSessionRepo) RemoveParticipant(ctx context.Context, sessionID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET participants = array_remove(participants, $2), updated_at = now()
		 WHERE id = $1`,
		sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return nil
}

// requireRowAffected は更新対象行が存在しない場合にエラーを返す。
func requireRowAffected(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
