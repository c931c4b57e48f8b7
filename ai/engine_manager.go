// Package ai предоставляет EngineManager для управления движками транскрипции
package ai

import (
	"aiwisper/models"
	"fmt"
	"log"
	"sync"
)

// engineCacheKey строит ключ кэша движков: "modelID" или "modelID:language",
// если язык переопределён относительно модели по умолчанию.
func engineCacheKey(modelID, language string) string {
	if language == "" {
		return modelID
	}
	return modelID + ":" + language
}

// EngineManager управляет движками транскрипции.
// Движки кэшируются по modelID в процессо-широкой карте, чтобы
// повторная активация уже использовавшейся модели не пересоздавала тяжёлый
// ONNX/whisper.cpp контекст заново — только первый запрос на cache_key платит
// цену загрузки, последующие обращения к той же модели переиспользуют сессию.
type EngineManager struct {
	modelsManager *models.Manager

	mu    sync.RWMutex
	cache map[string]TranscriptionEngine

	activeEngine  TranscriptionEngine
	activeModelID string
	activeKey     string
}

// NewEngineManager создаёт новый менеджер движков
func NewEngineManager(modelsManager *models.Manager) *EngineManager {
	return &EngineManager{
		modelsManager: modelsManager,
		cache:         make(map[string]TranscriptionEngine),
	}
}

// GetActiveEngine возвращает активный движок
func (em *EngineManager) GetActiveEngine() TranscriptionEngine {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.activeEngine
}

// GetActiveModelID возвращает ID активной модели
func (em *EngineManager) GetActiveModelID() string {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.activeModelID
}

// getOrCreateEngine возвращает закэшированный движок для cacheKey, либо
// создаёт новый через construct() и кладёт его в кэш. Использует
// double-checked locking: быстрая проверка под RLock, повторная проверка
// под Lock перед вставкой (на случай гонки двух одновременных миссов).
func (em *EngineManager) getOrCreateEngine(cacheKey string, construct func() (TranscriptionEngine, error)) (TranscriptionEngine, error) {
	em.mu.RLock()
	if eng, ok := em.cache[cacheKey]; ok {
		em.mu.RUnlock()
		return eng, nil
	}
	em.mu.RUnlock()

	em.mu.Lock()
	defer em.mu.Unlock()

	if eng, ok := em.cache[cacheKey]; ok {
		return eng, nil
	}

	eng, err := construct()
	if err != nil {
		return nil, err
	}
	em.cache[cacheKey] = eng
	return eng, nil
}

// buildEngine создаёт движок нужного типа для модели modelID (без кэширования)
func (em *EngineManager) buildEngine(modelID string) (TranscriptionEngine, error) {
	modelInfo := models.GetModelByID(modelID)
	if modelInfo == nil {
		return nil, fmt.Errorf("unknown model: %s", modelID)
	}
	if !em.modelsManager.IsModelDownloaded(modelID) {
		return nil, fmt.Errorf("model %s is not downloaded", modelID)
	}

	if !modelInfo.Type.IsASREngine() {
		return nil, fmt.Errorf("model %s (type %s) is not an ASR engine", modelID, modelInfo.Type)
	}

	switch modelInfo.Type {
	case models.ModelTypeGGML:
		modelPath := em.modelsManager.GetModelPath(modelID)
		eng, err := NewWhisperEngine(modelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create Whisper engine: %w", err)
		}
		return eng, nil

	case models.ModelTypeGigaAMRNNT:
		modelPath := em.modelsManager.GetModelPath(modelID)
		vocabPath := em.modelsManager.GetVocabPath(modelID)
		if vocabPath == "" {
			return nil, fmt.Errorf("vocab path not found for GigaAM model %s", modelID)
		}
		eng, err := NewGigaAMRNNTEngine(modelPath, vocabPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create GigaAM RNNT engine: %w", err)
		}
		return eng, nil

	case models.ModelTypeGigaAMCTC:
		modelPath := em.modelsManager.GetModelPath(modelID)
		vocabPath := em.modelsManager.GetVocabPath(modelID)
		if vocabPath == "" {
			return nil, fmt.Errorf("vocab path not found for GigaAM model %s", modelID)
		}
		eng, err := NewGigaAMEngine(modelPath, vocabPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create GigaAM engine: %w", err)
		}
		return eng, nil

	case models.ModelTypeFluidASR:
		modelCacheDir := em.modelsManager.GetModelsDir()
		eng, err := NewFluidASREngine(FluidASRConfig{ModelCacheDir: modelCacheDir})
		if err != nil {
			return nil, fmt.Errorf("failed to create FluidASR engine: %w", err)
		}
		return eng, nil

	default:
		return nil, fmt.Errorf("unsupported model type: %s", modelInfo.Type)
	}
}

// SetActiveModel устанавливает активную модель, переиспользуя закэшированный
// движок для этой модели если он уже был создан ранее.
func (em *EngineManager) SetActiveModel(modelID string) error {
	em.mu.RLock()
	if em.activeModelID == modelID && em.activeEngine != nil {
		em.mu.RUnlock()
		return nil
	}
	em.mu.RUnlock()

	key := engineCacheKey(modelID, "")
	eng, err := em.getOrCreateEngine(key, func() (TranscriptionEngine, error) {
		return em.buildEngine(modelID)
	})
	if err != nil {
		return err
	}

	em.mu.Lock()
	em.activeEngine = eng
	em.activeModelID = modelID
	em.activeKey = key
	em.mu.Unlock()

	if err := em.modelsManager.SetActiveModel(modelID); err != nil {
		log.Printf("Warning: failed to set active model in models manager: %v", err)
	}

	modelInfo := models.GetModelByID(modelID)
	engineName := ""
	if modelInfo != nil {
		engineName = string(modelInfo.Type)
	}
	log.Printf("EngineManager: switched to model %s (engine: %s)", modelID, engineName)
	return nil
}

// SetLanguage устанавливает язык для активного движка
func (em *EngineManager) SetLanguage(lang string) {
	em.mu.RLock()
	engine := em.activeEngine
	em.mu.RUnlock()

	if engine != nil {
		engine.SetLanguage(lang)
	}
}

// SetPauseThreshold устанавливает порог паузы для сегментации (только для FluidASR)
func (em *EngineManager) SetPauseThreshold(threshold float64) {
	em.mu.RLock()
	engine := em.activeEngine
	em.mu.RUnlock()

	if engine != nil {
		if fluidEngine, ok := engine.(*FluidASREngine); ok {
			fluidEngine.SetPauseThreshold(threshold)
		}
	}
}

// Transcribe транскрибирует аудио через активный движок
func (em *EngineManager) Transcribe(samples []float32, useContext bool) (string, error) {
	em.mu.RLock()
	engine := em.activeEngine
	em.mu.RUnlock()

	if engine == nil {
		return "", fmt.Errorf("no active engine")
	}

	return engine.Transcribe(samples, useContext)
}

// TranscribeWithSegments транскрибирует аудио с сегментами
func (em *EngineManager) TranscribeWithSegments(samples []float32) ([]TranscriptSegment, error) {
	em.mu.RLock()
	engine := em.activeEngine
	em.mu.RUnlock()

	if engine == nil {
		return nil, fmt.Errorf("no active engine")
	}

	return engine.TranscribeWithSegments(samples)
}

// TranscribeHighQuality выполняет высококачественную транскрипцию
func (em *EngineManager) TranscribeHighQuality(samples []float32) ([]TranscriptSegment, error) {
	em.mu.RLock()
	engine := em.activeEngine
	em.mu.RUnlock()

	if engine == nil {
		return nil, fmt.Errorf("no active engine")
	}

	return engine.TranscribeHighQuality(samples)
}

// Close закрывает все закэшированные движки (активный и неактивные)
func (em *EngineManager) Close() {
	em.mu.Lock()
	defer em.mu.Unlock()

	for key, eng := range em.cache {
		eng.Close()
		delete(em.cache, key)
	}
	em.activeEngine = nil
	em.activeModelID = ""
	em.activeKey = ""
}

// GetEngineInfo возвращает информацию об активном движке
func (em *EngineManager) GetEngineInfo() map[string]interface{} {
	em.mu.RLock()
	defer em.mu.RUnlock()

	info := map[string]interface{}{
		"activeModelID": em.activeModelID,
		"hasEngine":     em.activeEngine != nil,
		"cachedEngines": len(em.cache),
	}

	if em.activeEngine != nil {
		info["engineName"] = em.activeEngine.Name()
		info["supportedLanguages"] = em.activeEngine.SupportedLanguages()
	}

	return info
}

// IsGigaAMActive проверяет, активен ли GigaAM движок (CTC или RNNT)
func (em *EngineManager) IsGigaAMActive() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()

	if em.activeEngine == nil {
		return false
	}
	name := em.activeEngine.Name()
	return name == "gigaam" || name == "gigaam-rnnt"
}

// IsWhisperActive проверяет, активен ли Whisper движок
func (em *EngineManager) IsWhisperActive() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()

	if em.activeEngine == nil {
		return false
	}
	return em.activeEngine.Name() == "whisper"
}

// CreateEngineForModel возвращает движок для указанной модели без установки
// его как активного (используется для гибридной транскрипции, вторичная
// модель) — переиспользует кэш наравне с SetActiveModel, по cache_key
// "modelID": язык в ключ не входит, обе точки вызова передают пустой язык.
func (em *EngineManager) CreateEngineForModel(modelID string) (TranscriptionEngine, error) {
	key := engineCacheKey(modelID, "")
	eng, err := em.getOrCreateEngine(key, func() (TranscriptionEngine, error) {
		return em.buildEngine(modelID)
	})
	if err != nil {
		return nil, err
	}

	modelInfo := models.GetModelByID(modelID)
	engineName := ""
	if modelInfo != nil {
		engineName = string(modelInfo.Type)
	}
	log.Printf("EngineManager: using secondary engine for model %s (engine: %s)", modelID, engineName)
	return eng, nil
}

// GetRecommendedModelForLanguage возвращает рекомендуемую модель для языка
func GetRecommendedModelForLanguage(lang string) string {
	switch lang {
	case "ru":
		// Для русского рекомендуем RNNT - лучше расставляет пунктуацию по словам
		return "gigaam-v3-rnnt"
	default:
		// GigaAM/FluidAudio специализированы под русский - для остальных языков
		// используем действительно мультиязычную модель
		return "ggml-large-v3-turbo"
	}
}
