package models

// Standing 排行榜成绩表，一个用户一条最高分
type Standing struct {
	BaseModel
	Username string `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Score    int    `gorm:"not null;index:idx_standings_score,sort:desc" json:"score"`
}

// TableName 指定表名
func (Standing) TableName() string {
	return "standings"
}
