package game

import (
	"context"

	"github.com/wfunc/loci-palace/internal/repository"
)

// RepositoryStandings 数据库排行榜，实现Standings接口
type RepositoryStandings struct {
	repo repository.StandingRepository
}

// NewRepositoryStandings 创建数据库排行榜
func NewRepositoryStandings(repo repository.StandingRepository) *RepositoryStandings {
	return &RepositoryStandings{repo: repo}
}

// Load 加载全部成绩
func (s *RepositoryStandings) Load() (map[string]int, error) {
	standings, err := s.repo.All(context.Background())
	if err != nil {
		return nil, err
	}

	out := make(map[string]int, len(standings))
	for _, standing := range standings {
		out[standing.Username] = standing.Score
	}
	return out, nil
}

// Save 保存成绩，仓储层只保留每个用户的最高分
func (s *RepositoryStandings) Save(data map[string]int) error {
	ctx := context.Background()
	for username, score := range data {
		if err := s.repo.SubmitScore(ctx, username, score); err != nil {
			return err
		}
	}
	return nil
}
