package voiceprint

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store - персистентная галерея голосовых отпечатков (§4.11), одна на
// инсталляцию приложения, общая для всех сессий.
type Store struct {
	path string
	data VoicePrintStore
	mu   sync.RWMutex
}

// NewStore открывает галерею рядом с деревом сессий: speakers.json лежит в
// родительской директории относительно dataDir/sessions.
func NewStore(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "..", "speakers.json")

	s := &Store{
		path: path,
		data: VoicePrintStore{Version: CurrentVersion},
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load speakers: %w", err)
	}

	log.Printf("[VoicePrint] Store initialized: %s (%d voiceprints)", path, len(s.data.VoicePrints))
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		return fmt.Errorf("failed to parse speakers.json: %w", err)
	}

	if s.data.Version < CurrentVersion {
		if err := s.migrateLocked(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// migrateLocked обновляет формат хранения до CurrentVersion. Вызывать только
// удерживая s.mu.
func (s *Store) migrateLocked() error {
	switch s.data.Version {
	case 0:
		s.data.Version = 1
		return s.persistLocked()
	default:
		return nil
	}
}

// persistLocked атомарно пишет текущее состояние на диск (temp-файл + rename).
// Вызывать только удерживая s.mu.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal speakers: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// mutateLocked находит отпечаток по id, передаёт его в fn для модификации на
// месте и сохраняет галерею. Используется всеми point-update операциями ниже,
// чтобы не повторять поиск+lock+save в каждой из них.
func (s *Store) mutateLocked(id string, fn func(vp *VoicePrint)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.VoicePrints {
		if s.data.VoicePrints[i].ID != id {
			continue
		}
		fn(&s.data.VoicePrints[i])
		s.data.VoicePrints[i].UpdatedAt = time.Now()
		return s.persistLocked()
	}

	return fmt.Errorf("voiceprint not found: %s", id)
}

// GetAll возвращает копию всей галереи.
func (s *Store) GetAll() []VoicePrint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]VoicePrint, len(s.data.VoicePrints))
	copy(result, s.data.VoicePrints)
	return result
}

// Get возвращает отпечаток по ID.
func (s *Store) Get(id string) (*VoicePrint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.VoicePrints {
		if s.data.VoicePrints[i].ID == id {
			vp := s.data.VoicePrints[i]
			return &vp, nil
		}
	}

	return nil, fmt.Errorf("voiceprint not found: %s", id)
}

// Add регистрирует новый голосовой отпечаток в галерее.
func (s *Store) Add(name string, embedding []float32, source string) (*VoicePrint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	vp := VoicePrint{
		ID:         uuid.New().String(),
		Name:       name,
		Embedding:  append([]float32(nil), embedding...),
		CreatedAt:  now,
		UpdatedAt:  now,
		LastSeenAt: now,
		SeenCount:  1,
		Source:     source,
	}

	s.data.VoicePrints = append(s.data.VoicePrints, vp)
	if err := s.persistLocked(); err != nil {
		s.data.VoicePrints = s.data.VoicePrints[:len(s.data.VoicePrints)-1]
		return nil, err
	}

	log.Printf("[VoicePrint] Added: %s (%s)", vp.Name, vp.ID[:8])
	return &vp, nil
}

// Update заменяет отпечаток целиком (используется UI-редактированием заметок).
func (s *Store) Update(vp *VoicePrint) error {
	return s.mutateLocked(vp.ID, func(stored *VoicePrint) {
		id := stored.ID
		*stored = *vp
		stored.ID = id
	})
}

// UpdateName переименовывает спикера.
func (s *Store) UpdateName(id, name string) error {
	return s.mutateLocked(id, func(vp *VoicePrint) {
		vp.Name = name
	})
}

// UpdateEmbedding усредняет новый embedding со старым (вес старого растёт с
// числом встреч, но ограничен сверху, чтобы отпечаток не "застывал") и
// перенормирует результат к единичной длине.
func (s *Store) UpdateEmbedding(id string, newEmbedding []float32) error {
	err := s.mutateLocked(id, func(vp *VoicePrint) {
		const maxOldWeight = 10
		oldWeight := float32(vp.SeenCount)
		if oldWeight > maxOldWeight {
			oldWeight = maxOldWeight
		}
		newWeight := float32(1)
		total := oldWeight + newWeight

		blended := make([]float32, len(vp.Embedding))
		for i := range blended {
			blended[i] = (vp.Embedding[i]*oldWeight + newEmbedding[i]*newWeight) / total
		}
		vp.Embedding = normalizeVector(blended)
		vp.SeenCount++
		vp.LastSeenAt = time.Now()
	})
	if err == nil {
		log.Printf("[VoicePrint] embedding refined: %s", id[:8])
	}
	return err
}

// SetSamplePath привязывает путь к аудио-сэмплу (для воспроизведения в UI).
func (s *Store) SetSamplePath(id, samplePath string) error {
	return s.mutateLocked(id, func(vp *VoicePrint) {
		vp.SamplePath = samplePath
	})
}

// Delete удаляет отпечаток из галереи.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.VoicePrints {
		if s.data.VoicePrints[i].ID != id {
			continue
		}
		name := s.data.VoicePrints[i].Name
		s.data.VoicePrints = append(s.data.VoicePrints[:i], s.data.VoicePrints[i+1:]...)
		if err := s.persistLocked(); err != nil {
			return err
		}
		log.Printf("[VoicePrint] Deleted: %s (%s)", name, id[:8])
		return nil
	}

	return fmt.Errorf("voiceprint not found: %s", id)
}

// Count возвращает размер галереи.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.VoicePrints)
}

// GetSamplesDir возвращает директорию для аудио-сэмплов отпечатков, рядом со
// speakers.json.
func (s *Store) GetSamplesDir() string {
	return filepath.Join(filepath.Dir(s.path), "speakers")
}

// normalizeVector приводит вектор к единичной длине; вырожденные (нулевые)
// вектора возвращаются без изменений.
func normalizeVector(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq < 1e-10 {
		return v
	}

	norm := float32(1.0 / math.Sqrt(sumSq))
	result := make([]float32, len(v))
	for i, x := range v {
		result[i] = x * norm
	}
	return result
}
