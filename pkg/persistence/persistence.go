package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "persistence")

// Service 持久化服务接口
type Service interface {
	NewStore(prefix, id, tag string) Store
}

// Store 单个键的读写
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = errors.New("persistence data not exists")

// JSONFileService 每个键一个 JSON 文件
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

// NewStore 创建新的存储
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &jsonFileStore{baseDir: s.baseDir, key: storeKey(prefix, id, tag)}
}

type jsonFileStore struct {
	baseDir string
	key     string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *jsonFileStore) filePath() string {
	return filepath.Join(s.baseDir, keySanitizer.ReplaceAllString(s.key, "_")+".json")
}

// Save 先写临时文件再 rename，避免半写文件
func (s *jsonFileStore) Save(data interface{}) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *jsonFileStore) Load(data interface{}) error {
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}

// MemoryService 进程内持久化（测试与 dry-run 使用）
type MemoryService struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryService() *MemoryService {
	return &MemoryService{data: make(map[string][]byte)}
}

func (s *MemoryService) NewStore(prefix, id, tag string) Store {
	return &memoryStore{service: s, key: storeKey(prefix, id, tag)}
}

type memoryStore struct {
	service *MemoryService
	key     string
}

func (s *memoryStore) Save(data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.service.mu.Lock()
	defer s.service.mu.Unlock()
	s.service.data[s.key] = b
	return nil
}

func (s *memoryStore) Load(data interface{}) error {
	s.service.mu.Lock()
	b, ok := s.service.data[s.key]
	s.service.mu.Unlock()
	if !ok {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}

func storeKey(prefix, id, tag string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, id, tag)
}

// LoadFields 加载带 persistence tag 的导出字段
func LoadFields(obj interface{}, id string, service Service) error {
	return iterateFieldsByTag(obj, "persistence", func(tag string, field reflect.StructField, value reflect.Value) error {
		ptr := reflect.New(value.Type())
		store := service.NewStore("state", id, tag)
		if err := store.Load(ptr.Interface()); err != nil {
			if errors.Is(err, ErrNotExists) {
				log.Debugf("state key does not exist, id=%s, tag=%s", id, tag)
				return nil
			}
			return fmt.Errorf("load %s.%s: %w", id, tag, err)
		}
		log.Debugf("loaded field %s (id=%s, tag=%s)", field.Name, id, tag)
		value.Set(ptr.Elem())
		return nil
	})
}

// SaveFields 保存带 persistence tag 的导出字段
func SaveFields(obj interface{}, id string, service Service) error {
	return iterateFieldsByTag(obj, "persistence", func(tag string, field reflect.StructField, value reflect.Value) error {
		log.Debugf("storing field %s (id=%s, tag=%s)", field.Name, id, tag)
		if err := service.NewStore("state", id, tag).Save(value.Interface()); err != nil {
			return fmt.Errorf("save %s.%s: %w", id, tag, err)
		}
		return nil
	})
}

// iterateFieldsByTag 遍历结构体字段（含嵌套结构体），对带 tag 的字段调用 fn
func iterateFieldsByTag(obj interface{}, tagName string, fn func(tag string, field reflect.StructField, value reflect.Value) error) error {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("object must be a struct or pointer to struct")
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		if !value.CanSet() {
			continue
		}

		tag := field.Tag.Get(tagName)
		if tag == "" || tag == "-" {
			if value.Kind() == reflect.Struct {
				if err := iterateFieldsByTag(value.Addr().Interface(), tagName, fn); err != nil {
					return err
				}
			} else if value.Kind() == reflect.Ptr && !value.IsNil() && value.Elem().Kind() == reflect.Struct {
				if err := iterateFieldsByTag(value.Interface(), tagName, fn); err != nil {
					return err
				}
			}
			continue
		}

		if err := fn(strings.Split(tag, ",")[0], field, value); err != nil {
			return err
		}
	}
	return nil
}
