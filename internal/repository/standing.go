package repository

import (
	"context"
	"errors"

	"github.com/wfunc/loci-palace/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StandingRepository 排行榜仓储接口
type StandingRepository interface {
	BaseRepository
	Get(ctx context.Context, username string) (*models.Standing, error)
	// SubmitScore 提交成绩，仅当高于历史最高分时落库
	SubmitScore(ctx context.Context, username string, score int) error
	List(ctx context.Context, pagination *Pagination) ([]*models.Standing, error)
	All(ctx context.Context) ([]*models.Standing, error)
	Delete(ctx context.Context, username string) error
}

type standingRepo struct {
	*BaseRepo
}

// NewStandingRepository 创建排行榜仓储
func NewStandingRepository(db *gorm.DB) StandingRepository {
	return &standingRepo{BaseRepo: NewBaseRepo(db)}
}

// WithTx 使用事务
func (r *standingRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &standingRepo{BaseRepo: r.BaseRepo.WithTx(tx)}
}

// Get 按用户名查询成绩
func (r *standingRepo) Get(ctx context.Context, username string) (*models.Standing, error) {
	var standing models.Standing
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&standing).Error
	if err != nil {
		return nil, err
	}
	return &standing, nil
}

// SubmitScore 提交成绩，只保留每个用户的最高分
func (r *standingRepo) SubmitScore(ctx context.Context, username string, score int) error {
	existing, err := r.Get(ctx, username)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if existing != nil && existing.Score >= score {
		return nil
	}

	standing := &models.Standing{
		Username: username,
		Score:    score,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
		}).
		Create(standing).Error
}

// List 按分数倒序分页查询
func (r *standingRepo) List(ctx context.Context, pagination *Pagination) ([]*models.Standing, error) {
	var standings []*models.Standing

	// 统计总数
	if err := r.db.WithContext(ctx).
		Model(&models.Standing{}).
		Count(&pagination.Total).Error; err != nil {
		return nil, err
	}

	err := r.db.WithContext(ctx).
		Order("score DESC, username ASC").
		Scopes(Paginate(pagination)).
		Find(&standings).Error
	return standings, err
}

// All 查询全部成绩（分数倒序）
func (r *standingRepo) All(ctx context.Context) ([]*models.Standing, error) {
	var standings []*models.Standing
	err := r.db.WithContext(ctx).
		Order("score DESC, username ASC").
		Find(&standings).Error
	return standings, err
}

// Delete 删除用户成绩
func (r *standingRepo) Delete(ctx context.Context, username string) error {
	// 用户名有唯一索引，物理删除以便重新提交
	return r.db.WithContext(ctx).
		Unscoped().
		Where("username = ?", username).
		Delete(&models.Standing{}).Error
}
