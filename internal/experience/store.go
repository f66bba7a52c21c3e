package experience

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/wfunc/loci-palace/internal/errors"
	"github.com/wfunc/loci-palace/internal/geometry"
	"github.com/wfunc/loci-palace/internal/object"
)

// Key 体验存档键，由房间码、用户ID和体验ID拼接而成
type Key struct {
	RoomCode     string `json:"room_code"`
	UserID       string `json:"user_id"`
	ExperienceID string `json:"experience_id"`
}

// String 存档键的序列化形式
func (k Key) String() string {
	return k.RoomCode + k.UserID + k.ExperienceID
}

// AnchorRef 存档中的锚点条目：物体类型，概念锚点还带概念ID
type AnchorRef struct {
	Kind      object.Kind      `json:"object_kind"`
	ConceptID object.ConceptID `json:"concept_id,omitempty"`
}

// Data 单个体验的存档数据
type Data struct {
	// AnchorData 锚点UUID到锚点条目的映射
	AnchorData map[string]AnchorRef `json:"anchor_data"`
	// ConceptRotations 概念首次摆放时记录的旋转
	ConceptRotations map[object.ConceptID]geometry.Quat `json:"concept_rotations"`
}

// NewData 创建空的体验存档
func NewData() *Data {
	return &Data{
		AnchorData:       make(map[string]AnchorRef),
		ConceptRotations: make(map[object.ConceptID]geometry.Quat),
	}
}

// Clone 深拷贝
func (d *Data) Clone() *Data {
	c := NewData()
	for k, v := range d.AnchorData {
		c.AnchorData[k] = v
	}
	for k, v := range d.ConceptRotations {
		c.ConceptRotations[k] = v
	}
	return c
}

// Store 体验存档网关
type Store interface {
	// Load 加载存档，不存在时返回全新存档
	Load(key Key) (*Data, error)
	// Save 保存存档，每次全量重写
	Save(key Key, data *Data) error
	// Keys 列出所有已保存的存档键
	Keys() ([]string, error)
	// DeleteAll 删除所有存档
	DeleteAll() error
}

// FileStore 基于单个JSON文件的存档实现。
// 文件内容为存档键到存档数据的映射，保存时临时文件加重命名保证原子性。
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFileStore 创建文件存档
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load 加载存档，文件或条目不存在时返回全新存档
func (s *FileStore) Load(key Key) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}

	data, ok := all[key.String()]
	if !ok {
		s.logger.Info("存档不存在，开始新的体验",
			zap.String("experience_key", key.String()))
		return NewData(), nil
	}
	if data.AnchorData == nil {
		data.AnchorData = make(map[string]AnchorRef)
	}
	if data.ConceptRotations == nil {
		data.ConceptRotations = make(map[object.ConceptID]geometry.Quat)
	}
	return data, nil
}

// Save 保存存档，全量重写文件
func (s *FileStore) Save(key Key, data *Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return err
	}
	all[key.String()] = data.Clone()

	if err := s.writeAll(all); err != nil {
		return err
	}

	s.logger.Debug("保存体验存档",
		zap.String("experience_key", key.String()),
		zap.Int("anchor_count", len(data.AnchorData)))
	return nil
}

// Keys 列出所有已保存的存档键
func (s *FileStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	return keys, nil
}

// DeleteAll 删除所有存档
func (s *FileStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrExperienceSave, "删除存档文件失败")
	}
	s.logger.Info("已删除所有体验存档", zap.String("path", s.path))
	return nil
}

func (s *FileStore) readAll() (map[string]*Data, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Data), nil
		}
		return nil, errors.Wrap(err, errors.ErrExperienceLoad, "读取存档文件失败")
	}

	all := make(map[string]*Data)
	if len(raw) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, errors.Wrap(err, errors.ErrExperienceLoad, "解析存档文件失败")
	}
	return all, nil
}

func (s *FileStore) writeAll(all map[string]*Data) error {
	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrExperienceSave, "序列化存档失败")
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, errors.ErrExperienceSave, "创建存档目录失败")
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return errors.Wrap(err, errors.ErrExperienceSave, "写入临时存档失败")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, errors.ErrExperienceSave, "替换存档文件失败")
	}
	return nil
}
