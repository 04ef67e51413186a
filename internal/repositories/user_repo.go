package repositories

import (
	"context"

	"estatehub/internal/models"
)

type UserRepository interface {
	GetProfile(ctx context.Context, id int64) (*models.UserProfile, error)
}

type userRepo struct {
	db Database
}

func NewUserRepo(db Database) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) GetProfile(ctx context.Context, id int64) (*models.UserProfile, error) {
	user := &models.UserProfile{}
	query := `SELECT id, email, COALESCE(name, '') FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.Email, &user.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}
