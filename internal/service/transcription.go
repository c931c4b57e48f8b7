package service

import (
	"aiwisper/ai"
	"aiwisper/session"
	"aiwisper/voiceprint"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Пороговые константы слияния и сопоставления спикеров для орекстратора
// потоковой транскрипции чанков (§4.8.1/§4.8.3/§4.10 обработки диалога).
const (
	// regionGroupMinDurationMs - регионы VAD короче этого объединяются с соседями
	// перед передачей движку транскрипции, чтобы сохранить контекст предложения.
	regionGroupMinDurationMs int64 = 2000
	// regionGroupMaxGapMs - максимальный зазор между соседними регионами, при
	// котором их ещё можно склеить в одну группу.
	regionGroupMaxGapMs int64 = 3000

	// minorSpeakerShareThreshold - спикер, чья суммарная доля речи меньше этой
	// доли, считается "шумовым" и поглощается ближайшим доминирующим соседом.
	minorSpeakerShareThreshold float32 = 0.10
	// diarizationMergeGapSec - сегменты диаризации одного порядка, разделённые
	// паузой меньше этого значения, склеиваются в один.
	diarizationMergeGapSec float32 = 0.5
	// diarizationMinSegmentSec - сегменты диаризации короче этого считаются
	// подозрительными и сливаются с соседом вместо того, чтобы формировать
	// отдельного говорящего.
	diarizationMinSegmentSec float32 = 1.0

	// speakerProfileMatchThreshold - минимальное косинусное сходство embedding'ов,
	// при котором спикер нового чанка признаётся уже известным профилем сессии.
	speakerProfileMatchThreshold float32 = 0.65

	// diarizationCallTimeout ограничивает время ожидания нативного вызова
	// диаризации на одном чанке.
	diarizationCallTimeout = 20 * time.Second
)

// channelRole различает левый (микрофон) и правый (системный звук) канал
// стерео-записи при раздельной обработке.
type channelRole int

const (
	roleMic channelRole = iota
	roleSys
)

func (r channelRole) label() string {
	if r == roleMic {
		return "MIC"
	}
	return "SYS"
}

// SessionSpeakerProfile хранит embedding спикера для сессии
type SessionSpeakerProfile struct {
	SpeakerID      int       // ID спикера в сессии (1, 2, 3...)
	Embedding      []float32 // 256-мерный вектор
	Duration       float32   // Общая длительность речи
	RecognizedName string    // Имя из глобальной базы voiceprints (если распознан)
	VoicePrintID   string    // ID voiceprint из глобальной базы (если распознан)
}

// TranscriptionService handles the core transcription logic
type TranscriptionService struct {
	SessionMgr *session.Manager
	EngineMgr  *ai.EngineManager
	Pipeline   *ai.AudioPipeline // Опционально: пайплайн с диаризацией

	// VAD режим транскрипции
	VADMode   session.VADMode   // auto, compression, per-region, off
	VADMethod session.VADMethod // energy, silero, auto

	// LLM для автоматического улучшения транскрипции
	LLMService         *LLMService
	AutoImproveWithLLM bool   // Автоматически улучшать через LLM после транскрипции
	OllamaURL          string // URL Ollama API
	OllamaModel        string // Модель для улучшения

	// Гибридная транскрипция (двухпроходное распознавание)
	HybridConfig      *ai.HybridTranscriptionConfig // Конфигурация гибридной транскрипции
	hybridTranscriber *ai.HybridTranscriber         // Экземпляр гибридного транскрибера
	secondaryEngine   ai.TranscriptionEngine        // Вторичный движок для гибридной транскрипции

	// Сопоставление спикеров между чанками (embeddings)
	// Ключ: sessionID, значение: список профилей спикеров этой сессии
	sessionSpeakerProfiles map[string][]SessionSpeakerProfile

	// VoicePrint matcher для автоматического распознавания спикеров из глобальной базы
	VoicePrintMatcher *voiceprint.Matcher

	// Callbacks for UI updates
	OnChunkTranscribed func(chunk *session.Chunk)
}

func NewTranscriptionService(sessionMgr *session.Manager, engineMgr *ai.EngineManager) *TranscriptionService {
	return &TranscriptionService{
		SessionMgr:             sessionMgr,
		EngineMgr:              engineMgr,
		VADMode:                session.VADModeAuto,   // По умолчанию автовыбор режима
		VADMethod:              session.VADMethodAuto, // По умолчанию автовыбор метода
		OllamaURL:              "http://localhost:11434",
		OllamaModel:            "llama3.2",
		sessionSpeakerProfiles: make(map[string][]SessionSpeakerProfile),
	}
}

// SetVADMode устанавливает режим VAD для транскрипции
func (s *TranscriptionService) SetVADMode(mode session.VADMode) {
	s.VADMode = mode
	log.Printf("VAD mode set to: %s", mode)
}

// SetVADMethod устанавливает метод детекции речи
func (s *TranscriptionService) SetVADMethod(method session.VADMethod) {
	s.VADMethod = method
	log.Printf("VAD method set to: %s", method)
}

// getEffectiveVADMethod возвращает эффективный метод VAD.
// При auto предпочитает Silero, если модель доступна, иначе откатывается
// на энергетический детектор внутри DetectSpeechRegionsWithMethod.
func (s *TranscriptionService) getEffectiveVADMethod() session.VADMethod {
	switch s.VADMethod {
	case session.VADMethodSilero:
		return session.VADMethodSilero
	case session.VADMethodEnergy:
		return session.VADMethodEnergy
	case session.VADMethodAuto, "":
		return session.VADMethodSilero
	default:
		return session.VADMethodEnergy
	}
}

// shouldUsePerRegion определяет, нужно ли обрабатывать VAD-регионы по отдельности
// вместо их склейки (GigaAM теряет точность на длинных склеенных аудио).
func (s *TranscriptionService) shouldUsePerRegion() bool {
	switch s.VADMode {
	case session.VADModePerRegion:
		return true
	case session.VADModeCompression:
		return false
	case session.VADModeAuto, "":
		return s.EngineMgr.IsGigaAMActive()
	default:
		return false
	}
}

// SetLLMService устанавливает LLM сервис для автоулучшения
func (s *TranscriptionService) SetLLMService(llm *LLMService) {
	s.LLMService = llm
}

// SetVoicePrintMatcher устанавливает matcher для автоматического распознавания спикеров
func (s *TranscriptionService) SetVoicePrintMatcher(matcher *voiceprint.Matcher) {
	s.VoicePrintMatcher = matcher
	if matcher != nil {
		log.Printf("[TranscriptionService] VoicePrint matcher enabled (%d voiceprints)", matcher.GetStore().Count())
	}
}

// EnableAutoImprove включает автоматическое улучшение транскрипции через LLM
func (s *TranscriptionService) EnableAutoImprove(ollamaURL, ollamaModel string) {
	s.AutoImproveWithLLM = true
	if ollamaURL != "" {
		s.OllamaURL = ollamaURL
	}
	if ollamaModel != "" {
		s.OllamaModel = ollamaModel
	}
	log.Printf("Auto-improve enabled: url=%s, model=%s", s.OllamaURL, s.OllamaModel)
}

// DisableAutoImprove отключает автоматическое улучшение
func (s *TranscriptionService) DisableAutoImprove() {
	s.AutoImproveWithLLM = false
	log.Println("Auto-improve disabled")
}

// SetHybridConfig устанавливает конфигурацию гибридной транскрипции
func (s *TranscriptionService) SetHybridConfig(config *ai.HybridTranscriptionConfig) {
	log.Printf("[SetHybridConfig] called, enabled=%v", config != nil)

	if s.secondaryEngine != nil {
		s.secondaryEngine.Close()
		s.secondaryEngine = nil
	}
	s.hybridTranscriber = nil
	s.HybridConfig = config

	if config == nil || !config.Enabled || config.SecondaryModelID == "" {
		log.Println("[SetHybridConfig] hybrid transcription disabled (no config or secondary model)")
		return
	}

	secondaryEngine, err := s.EngineMgr.CreateEngineForModel(config.SecondaryModelID)
	if err != nil {
		log.Printf("[SetHybridConfig] failed to create secondary engine %s: %v", config.SecondaryModelID, err)
		s.HybridConfig = nil
		return
	}
	s.secondaryEngine = secondaryEngine

	var llmSelector ai.LLMTranscriptionSelector
	if config.UseLLMForMerge && s.LLMService != nil {
		ollamaModel := firstNonEmpty(config.OllamaModel, s.OllamaModel, "llama3.2")
		ollamaURL := firstNonEmpty(config.OllamaURL, s.OllamaURL, "http://localhost:11434")
		llmSelector = &llmSelectorAdapter{
			llmService:  s.LLMService,
			ollamaURL:   ollamaURL,
			ollamaModel: ollamaModel,
		}
	}

	if len(config.Hotwords) > 0 {
		if primaryEngine := s.EngineMgr.GetActiveEngine(); primaryEngine != nil {
			primaryEngine.SetHotwords(config.Hotwords)
		}
		secondaryEngine.SetHotwords(config.Hotwords)
	}

	s.hybridTranscriber = ai.NewHybridTranscriber(
		s.EngineMgr.GetActiveEngine(),
		secondaryEngine,
		*config,
		llmSelector,
	)

	log.Printf("[SetHybridConfig] hybrid transcription ready: secondary=%s mode=%s threshold=%.2f useLLM=%v hotwords=%d",
		config.SecondaryModelID, config.Mode, config.ConfidenceThreshold, config.UseLLMForMerge, len(config.Hotwords))
}

// firstNonEmpty возвращает первый непустой аргумент из списка.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsHybridEnabled возвращает true если гибридная транскрипция включена
func (s *TranscriptionService) IsHybridEnabled() bool {
	return s.HybridConfig != nil && s.HybridConfig.Enabled && s.hybridTranscriber != nil
}

// llmSelectorAdapter адаптер для LLMService к интерфейсу LLMTranscriptionSelector
type llmSelectorAdapter struct {
	llmService  *LLMService
	ollamaURL   string
	ollamaModel string
}

func (a *llmSelectorAdapter) SelectBestTranscription(original, alternative, context string) (string, error) {
	return a.llmService.SelectBestTranscription(original, alternative, context, a.ollamaModel, a.ollamaURL)
}

// transcribeWithHybrid транскрибирует сэмплы, используя гибридный транскрайбер,
// если он настроен, и откатываясь на основной движок в случае ошибки.
func (s *TranscriptionService) transcribeWithHybrid(samples []float32) ([]ai.TranscriptSegment, error) {
	if !s.IsHybridEnabled() {
		return s.EngineMgr.TranscribeWithSegments(samples)
	}

	result, err := s.hybridTranscriber.Transcribe(samples)
	if err != nil {
		log.Printf("[transcribeWithHybrid] hybrid pass failed: %v, falling back to primary engine", err)
		return s.EngineMgr.TranscribeWithSegments(samples)
	}
	if result.RetranscribedCount > 0 {
		log.Printf("[transcribeWithHybrid] improved %d regions (%d low-confidence words)",
			result.RetranscribedCount, result.LowConfidenceCount)
	}
	return result.Segments, nil
}

// applyHybridToPipelineResult перетранскрибирует вторичной моделью результат,
// полученный через Pipeline (с диаризацией), и выбирает лучший вариант текста
// с помощью LLM, сохраняя спикеров из оригинального результата.
func (s *TranscriptionService) applyHybridToPipelineResult(samples []float32, pipelineResult *ai.PipelineResult) *ai.PipelineResult {
	if s.hybridTranscriber == nil || s.secondaryEngine == nil {
		return nil
	}

	secondarySegments, err := s.secondaryEngine.TranscribeWithSegments(samples)
	if err != nil {
		log.Printf("[applyHybridToPipelineResult] secondary transcription failed: %v", err)
		return nil
	}

	primaryText := pipelineResult.FullText
	secondaryText := segmentsToText(secondarySegments)

	if primaryText == secondaryText {
		return nil
	}
	if !(s.HybridConfig.UseLLMForMerge && s.LLMService != nil) {
		return nil
	}

	ollamaModel := firstNonEmpty(s.HybridConfig.OllamaModel, s.OllamaModel, "llama3.2")
	ollamaURL := firstNonEmpty(s.HybridConfig.OllamaURL, s.OllamaURL, "http://localhost:11434")

	selected, err := s.LLMService.SelectBestTranscription(primaryText, secondaryText, "", ollamaModel, ollamaURL)
	if err != nil {
		log.Printf("[applyHybridToPipelineResult] LLM selection failed: %v", err)
		return nil
	}
	if selected == primaryText {
		return nil
	}

	improved := &ai.PipelineResult{
		FullText:    selected,
		Segments:    pipelineResult.Segments,
		NumSpeakers: pipelineResult.NumSpeakers,
	}
	if selected == secondaryText && len(secondarySegments) > 0 {
		improved.Segments = carrySpeakersIntoSegments(secondarySegments, pipelineResult.Segments)
	}
	return improved
}

// carrySpeakersIntoSegments переносит текст новых сегментов, подбирая для каждого
// спикера из старых сегментов по максимальному временному перекрытию.
func carrySpeakersIntoSegments(newSegs, oldSegs []ai.TranscriptSegment) []ai.TranscriptSegment {
	if len(oldSegs) == 0 {
		return newSegs
	}

	result := make([]ai.TranscriptSegment, len(newSegs))
	for i, newSeg := range newSegs {
		result[i] = newSeg

		var bestMatch *ai.TranscriptSegment
		var bestOverlap int64

		for j := range oldSegs {
			overlap := overlapMs(newSeg.Start, newSeg.End, oldSegs[j].Start, oldSegs[j].End)
			if overlap > bestOverlap {
				bestOverlap = overlap
				bestMatch = &oldSegs[j]
			}
		}

		if bestMatch != nil && bestMatch.Speaker != "" {
			result[i].Speaker = bestMatch.Speaker
		}
	}

	return result
}

func overlapMs(aStart, aEnd, bStart, bEnd int64) int64 {
	start := max(aStart, bStart)
	end := min(aEnd, bEnd)
	if end <= start {
		return 0
	}
	return end - start
}

// SetPipeline устанавливает AudioPipeline для расширенной обработки (диаризация)
func (s *TranscriptionService) SetPipeline(pipeline *ai.AudioPipeline) {
	s.Pipeline = pipeline
}

// EnableDiarization включает диаризацию с автоопределением устройства.
func (s *TranscriptionService) EnableDiarization(segmentationPath, embeddingPath string) error {
	return s.EnableDiarizationWithProvider(segmentationPath, embeddingPath, "auto")
}

// EnableDiarizationWithProvider включает диаризацию с указанным provider (auto/cpu/coreml/cuda).
func (s *TranscriptionService) EnableDiarizationWithProvider(segmentationPath, embeddingPath, provider string) error {
	return s.EnableDiarizationWithBackend(segmentationPath, embeddingPath, provider, "sherpa")
}

// EnableDiarizationWithBackend включает диаризацию с указанными моделями, provider и backend (sherpa/fluid).
func (s *TranscriptionService) EnableDiarizationWithBackend(segmentationPath, embeddingPath, provider, backend string) error {
	if s.EngineMgr == nil {
		return fmt.Errorf("engine manager is required")
	}

	engine := s.EngineMgr.GetActiveEngine()
	if engine == nil {
		return fmt.Errorf("no active transcription engine")
	}

	config := ai.PipelineConfig{
		EnableDiarization:     true,
		SegmentationModelPath: segmentationPath,
		EmbeddingModelPath:    embeddingPath,
		ClusteringThreshold:   0.5,
		MinDurationOn:         0.3,
		MinDurationOff:        0.5,
		NumThreads:            4,
		Provider:              provider,
		DiarizationBackend:    backend,
	}

	pipeline, err := ai.NewAudioPipeline(engine, config)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	if s.Pipeline != nil {
		s.Pipeline.Close()
	}

	s.Pipeline = pipeline
	log.Printf("Diarization enabled: backend=%s, provider=%s", backend, pipeline.GetDiarizationProvider())
	return nil
}

// DisableDiarization отключает диаризацию
func (s *TranscriptionService) DisableDiarization() {
	if s.Pipeline != nil {
		s.Pipeline.Close()
		s.Pipeline = nil
	}
}

// IsDiarizationEnabled возвращает true если диаризация включена
func (s *TranscriptionService) IsDiarizationEnabled() bool {
	return s.Pipeline != nil && s.Pipeline.IsDiarizationEnabled()
}

// GetDiarizationProvider возвращает текущий backend диаризации ("sherpa" или "fluid"),
// либо пустую строку, если pipeline не создан
func (s *TranscriptionService) GetDiarizationProvider() string {
	if s.Pipeline != nil {
		return s.Pipeline.GetDiarizationProvider()
	}
	return ""
}

// ResetDiarizationState сбрасывает реестр спикеров диаризации
func (s *TranscriptionService) ResetDiarizationState() {
	if s.Pipeline != nil {
		s.Pipeline.ResetSpeakers()
	}
}

// HandleChunk асинхронно запускает обработку нового аудио-чанка: VAD, транскрипция, маппинг спикеров.
func (s *TranscriptionService) HandleChunk(chunk *session.Chunk) {
	if s.EngineMgr == nil {
		log.Printf("Engine is nil, skipping transcription for chunk %s", chunk.ID)
		return
	}

	go func() {
		log.Printf("chunk %d/session %s: starting async transcription (stereo=%v)",
			chunk.Index, chunk.SessionID, chunk.IsStereo)
		s.processChunkFromMP3(chunk, true)
	}()
}

// HandleChunkSync обрабатывает чанк синхронно (используется при ретранскрипции).
func (s *TranscriptionService) HandleChunkSync(chunk *session.Chunk) {
	s.HandleChunkSyncWithDiarization(chunk, true)
}

// HandleChunkSyncWithDiarization обрабатывает чанк синхронно с явным флагом диаризации.
func (s *TranscriptionService) HandleChunkSyncWithDiarization(chunk *session.Chunk, useDiarization bool) {
	if s.EngineMgr == nil {
		log.Printf("Engine is nil, skipping transcription for chunk %s", chunk.ID)
		return
	}
	log.Printf("chunk %d/session %s: starting sync transcription (stereo=%v, diarization=%v)",
		chunk.Index, chunk.SessionID, chunk.IsStereo, useDiarization)
	s.processChunkFromMP3(chunk, useDiarization)
}

// processChunkFromMP3 извлекает аудио чанка из full.mp3 и выбирает путь обработки:
// стерео-разделение каналов (микрофон всегда "Вы", системный звук - диаризация)
// либо моно-конвейер, если каналы совпадают или стерео недоступно.
func (s *TranscriptionService) processChunkFromMP3(chunk *session.Chunk, useDiarizationFallback bool) {
	startTime := time.Now()
	chunk.ProcessingStartTime = &startTime

	sess, err := s.SessionMgr.GetSession(chunk.SessionID)
	if err != nil {
		log.Printf("Failed to get session: %v", err)
		s.SessionMgr.UpdateChunkStereoWithSegments(chunk.SessionID, chunk.ID, "", "", nil, nil, err)
		return
	}

	mp3Path := filepath.Join(sess.DataDir, "full.mp3")
	micSamples, sysSamples, err := session.ExtractSegmentStereoGo(mp3Path, chunk.StartMs, chunk.EndMs, 16000)
	if err != nil {
		log.Printf("Stereo extraction failed (%v), falling back to mono: %s", err, mp3Path)
		s.processMonoFromMP3Impl(chunk, useDiarizationFallback)
		return
	}
	if len(micSamples) == 0 && len(sysSamples) == 0 {
		log.Printf("Both channels empty, falling back to mono extraction")
		s.processMonoFromMP3Impl(chunk, useDiarizationFallback)
		return
	}
	if areChannelsSimilar(micSamples, sysSamples) {
		log.Printf("Channels are duplicated mono, falling back to mono processing")
		s.processMonoFromMP3Impl(chunk, useDiarizationFallback)
		return
	}

	log.Printf("stereo samples loaded: mic=%.1fs sys=%.1fs", secondsOf(len(micSamples)), secondsOf(len(sysSamples)))

	micSamples = session.FilterChannelForTranscription(micSamples, 16000)
	sysSamples = session.FilterChannelForTranscription(sysSamples, 16000)

	vadMethod := s.getEffectiveVADMethod()
	micRegions := session.DetectSpeechRegionsWithMethod(micSamples, 16000, vadMethod)
	sysRegions := session.DetectSpeechRegionsWithMethod(sysSamples, 16000, vadMethod)
	usePerRegion := s.shouldUsePerRegion()
	log.Printf("VAD regions: mic=%d sys=%d (method=%s, perRegion=%v)", len(micRegions), len(sysRegions), vadMethod, usePerRegion)

	micSegments, micErr := s.transcribeChannel(chunk.SessionID, roleMic, micSamples, micRegions, usePerRegion, false)
	sysSegments, sysErr := s.transcribeChannel(chunk.SessionID, roleSys, sysSamples, sysRegions, usePerRegion, true)

	var finalErr error
	if micErr != nil && sysErr != nil {
		finalErr = fmt.Errorf("mic: %v, sys: %v", micErr, sysErr)
	}

	sessionMicSegs := convertSegmentsWithGlobalOffset(micSegments, "Вы", chunk.StartMs)
	sessionSysSegs := convertSysSegmentsWithDiarization(sysSegments, chunk.StartMs)

	s.SessionMgr.UpdateChunkStereoWithSegments(chunk.SessionID, chunk.ID, segmentsToText(micSegments), segmentsToText(sysSegments), sessionMicSegs, sessionSysSegs, finalErr)
	log.Printf("chunk %d: stereo transcription complete", chunk.Index)

	if s.AutoImproveWithLLM && s.LLMService != nil && finalErr == nil {
		s.autoImproveChunk(chunk)
	}
}

func secondsOf(samples int) float64 {
	return float64(samples) / 16000
}

// transcribeChannel транскрибирует один стерео-канал: выбирает между
// покомпонентной обработкой VAD-регионов и склейкой речи (compression), и,
// для системного канала, дополнительно прогоняет диаризацию с сопоставлением
// спикеров по embeddings между чанками сессии.
func (s *TranscriptionService) transcribeChannel(sessionID string, role channelRole, samples []float32, regions []session.SpeechRegion, perRegion, withDiarization bool) ([]ai.TranscriptSegment, error) {
	if len(regions) == 0 {
		return nil, nil
	}

	var segments []ai.TranscriptSegment
	var err error

	if perRegion {
		log.Printf("transcribing %s channel per-region: %d regions", role.label(), len(regions))
		segments, err = s.transcribeRegionsSeparately(samples, regions, 16000)
		if err == nil && withDiarization && s.Pipeline != nil && s.Pipeline.IsDiarizationEnabled() {
			segments = s.applyDiarizationToSegments(samples, regions, segments)
		}
		if err != nil {
			log.Printf("%s channel transcription error: %v", role.label(), err)
		}
		return segments, err
	}

	compressed := session.CompressSpeechFromRegions(samples, regions, 16000)
	log.Printf("transcribing %s channel with compression: %.1fs (from %.1fs)",
		role.label(), secondsOf(len(compressed.CompressedSamples)), secondsOf(len(samples)))

	segments, err = s.transcribeWithHybrid(compressed.CompressedSamples)
	if err != nil {
		log.Printf("%s channel transcription error: %v", role.label(), err)
		return nil, err
	}
	segments = restoreAISegmentTimestamps(segments, compressed.Regions)

	if withDiarization && s.Pipeline != nil && s.Pipeline.IsDiarizationEnabled() {
		// Диаризация выполняется на оригинальном (не сжатом) аудио, чтобы её
		// таймкоды совпадали с восстановленными таймкодами транскрипции.
		diarResult, diarErr := s.pipelineDiarizeOnly(samples, diarizationCallTimeout)
		if diarErr != nil {
			log.Printf("diarization error on %s channel: %v, keeping speakerless transcription", role.label(), diarErr)
		} else if len(diarResult.SpeakerSegments) > 0 {
			speakerSegments := diarResult.SpeakerSegments
			if len(diarResult.SpeakerEmbeddings) > 0 {
				if mapping := s.matchSpeakersWithSession(sessionID, diarResult.SpeakerEmbeddings); len(mapping) > 0 {
					speakerSegments = s.remapSpeakerSegments(speakerSegments, mapping)
				}
			}
			segments = applySpeakersToTranscriptSegments(segments, speakerSegments)
		}
	}

	log.Printf("%s channel transcription complete: %d segments", role.label(), len(segments))
	return segments, nil
}

// transcribeRegionsSeparately транскрибирует каждую группу VAD-регионов отдельно.
// Это важно для GigaAM, который теряет контекст на границах склеенного аудио.
// Короткие регионы предварительно объединяются с соседями для лучшего контекста.
func (s *TranscriptionService) transcribeRegionsSeparately(samples []float32, regions []session.SpeechRegion, sampleRate int) ([]ai.TranscriptSegment, error) {
	if len(regions) == 0 {
		return nil, nil
	}

	groups := mergeShortRegions(regions, regionGroupMinDurationMs, regionGroupMaxGapMs)
	log.Printf("transcribeRegionsSeparately: %d regions grouped into %d", len(regions), len(groups))

	var allSegments []ai.TranscriptSegment
	for i, group := range groups {
		startSample := clamp(int(group.StartMs*int64(sampleRate)/1000), 0, len(samples))
		endSample := clamp(int(group.EndMs*int64(sampleRate)/1000), 0, len(samples))
		if startSample >= endSample {
			continue
		}

		segments, err := s.transcribeWithHybrid(samples[startSample:endSample])
		if err != nil {
			log.Printf("  group[%d] transcription error: %v", i, err)
			continue
		}
		offsetSegments(segments, group.StartMs)
		allSegments = append(allSegments, segments...)
	}

	log.Printf("transcribeRegionsSeparately: %d segments from %d groups", len(allSegments), len(groups))
	return allSegments, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// offsetSegments сдвигает таймкоды сегментов (и их слов) на заданное смещение в месте.
func offsetSegments(segments []ai.TranscriptSegment, offsetMs int64) {
	for j := range segments {
		segments[j].Start += offsetMs
		segments[j].End += offsetMs
		for k := range segments[j].Words {
			segments[j].Words[k].Start += offsetMs
			segments[j].Words[k].End += offsetMs
		}
	}
}

// mergeShortRegions объединяет короткие VAD-регионы с соседними, чтобы дать
// движку транскрипции больше контекста на границах.
func mergeShortRegions(regions []session.SpeechRegion, minDurationMs, maxGapMs int64) []session.SpeechRegion {
	if len(regions) <= 1 {
		return regions
	}

	merged := make([]session.SpeechRegion, 0, len(regions))
	current := regions[0]

	for i := 1; i < len(regions); i++ {
		next := regions[i]
		gap := next.StartMs - current.EndMs
		currentIsShort := current.EndMs-current.StartMs < minDurationMs
		nextIsShort := next.EndMs-next.StartMs < minDurationMs

		if gap <= maxGapMs && (currentIsShort || nextIsShort) {
			current.EndMs = next.EndMs
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)
	return merged
}

// segmentsToText объединяет текст сегментов через пробел.
func segmentsToText(segments []ai.TranscriptSegment) string {
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		texts = append(texts, seg.Text)
	}
	return strings.Join(texts, " ")
}

// applyDiarizationToSegments применяет диаризацию к уже готовым per-region сегментам,
// конвертируя таймкоды между реальным и сжатым временем.
func (s *TranscriptionService) applyDiarizationToSegments(samples []float32, regions []session.SpeechRegion, segments []ai.TranscriptSegment) []ai.TranscriptSegment {
	if s.Pipeline == nil || !s.Pipeline.IsDiarizationEnabled() || len(segments) == 0 {
		return segments
	}

	compressed := session.CompressSpeechFromRegions(samples, regions, 16000)
	if len(compressed.CompressedSamples) == 0 {
		return segments
	}

	result, err := s.pipelineDiarizeOnly(compressed.CompressedSamples, diarizationCallTimeout)
	if err != nil {
		log.Printf("applyDiarizationToSegments: diarization failed: %v", err)
		return segments
	}
	if len(result.SpeakerSegments) == 0 {
		return segments
	}

	updated := make([]ai.TranscriptSegment, len(segments))
	for i, seg := range segments {
		updated[i] = seg
		compressedStart := session.MapRealTimeToCompressedTime(seg.Start, regions)
		compressedEnd := session.MapRealTimeToCompressedTime(seg.End, regions)
		if speaker := findBestSpeakerForSegment(compressedStart, compressedEnd, result.SpeakerSegments); speaker >= 0 {
			updated[i].Speaker = fmt.Sprintf("Speaker %d", speaker)
		}
	}
	return updated
}

// pipelineDiarizeOnly выполняет только диаризацию, защищаясь таймаутом от
// зависания нативной библиотеки.
func (s *TranscriptionService) pipelineDiarizeOnly(samples []float32, timeout time.Duration) (*ai.PipelineResult, error) {
	type res struct {
		result *ai.PipelineResult
		err    error
	}
	ch := make(chan res, 1)
	go func() {
		r, err := s.Pipeline.DiarizeOnly(samples)
		ch <- res{result: r, err: err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("diarization timeout after %v", timeout)
	}
}

// findBestSpeakerForSegment находит спикера с максимальным перекрытием по времени.
func findBestSpeakerForSegment(startMs, endMs int64, speakerSegments []ai.SpeakerSegment) int {
	startSec := float32(startMs) / 1000.0
	endSec := float32(endMs) / 1000.0

	bestSpeaker := -1
	maxOverlap := float32(0)
	for _, seg := range speakerSegments {
		overlap := overlapSec(startSec, endSec, seg.Start, seg.End)
		if overlap > maxOverlap {
			maxOverlap = overlap
			bestSpeaker = seg.Speaker
		}
	}
	return bestSpeaker
}

func overlapSec(aStart, aEnd, bStart, bEnd float32) float32 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}

// pipelineProcessWithTimeout защищает вызов Pipeline.Process от зависаний нативных библиотек.
func (s *TranscriptionService) pipelineProcessWithTimeout(samples []float32, timeout time.Duration) (*ai.PipelineResult, error) {
	type res struct {
		result *ai.PipelineResult
		err    error
	}
	ch := make(chan res, 1)
	go func() {
		r, err := s.Pipeline.Process(samples)
		ch <- res{result: r, err: err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("pipeline process timeout after %v", timeout)
	}
}

// autoImproveChunk улучшает диалог чанка через LLM и сохраняет результат.
func (s *TranscriptionService) autoImproveChunk(chunk *session.Chunk) {
	sess, err := s.SessionMgr.GetSession(chunk.SessionID)
	if err != nil {
		log.Printf("auto-improve: failed to get session: %v", err)
		return
	}

	var dialogue []session.TranscriptSegment
	for _, c := range sess.Chunks {
		if c.ID == chunk.ID && len(c.Dialogue) > 0 {
			dialogue = c.Dialogue
			break
		}
	}
	if len(dialogue) == 0 {
		return
	}

	improved, err := s.LLMService.ImproveTranscriptionWithLLM(dialogue, s.OllamaModel, s.OllamaURL)
	if err != nil {
		log.Printf("auto-improve: LLM error: %v", err)
		return
	}
	if err := s.SessionMgr.UpdateImprovedDialogue(chunk.SessionID, improved); err != nil {
		log.Printf("auto-improve: failed to save: %v", err)
		return
	}
	log.Printf("auto-improve: chunk %d improved %d -> %d segments", chunk.Index, len(dialogue), len(improved))
}

// processMonoFromMP3 извлекает моно-аудио чанка и транскрибирует (с диаризацией, если включена).
func (s *TranscriptionService) processMonoFromMP3(chunk *session.Chunk) {
	s.processMonoFromMP3Impl(chunk, true)
}

// processMonoFromMP3Impl - моно-путь обработки чанка с явным флагом диаризации.
func (s *TranscriptionService) processMonoFromMP3Impl(chunk *session.Chunk, useDiarization bool) {
	sess, err := s.SessionMgr.GetSession(chunk.SessionID)
	if err != nil {
		log.Printf("Failed to get session: %v", err)
		s.SessionMgr.UpdateChunkTranscription(chunk.SessionID, chunk.ID, "", err)
		return
	}

	mp3Path := filepath.Join(sess.DataDir, "full.mp3")
	samples, err := session.ExtractSegmentGo(mp3Path, chunk.StartMs, chunk.EndMs, session.ASRSampleRate)
	if err != nil {
		log.Printf("Failed to extract segment: %v", err)
		s.SessionMgr.UpdateChunkTranscription(chunk.SessionID, chunk.ID, "", err)
		return
	}

	log.Printf("chunk %d: transcribing %.1fs mono (diarization=%v)", chunk.Index, secondsOf(len(samples)), useDiarization)

	if useDiarization && s.Pipeline != nil && s.Pipeline.IsDiarizationEnabled() {
		result, err := s.Pipeline.Process(samples)
		if err != nil {
			log.Printf("pipeline error for chunk %d: %v", chunk.Index, err)
			s.SessionMgr.UpdateChunkTranscription(chunk.SessionID, chunk.ID, "", err)
			return
		}

		if s.IsHybridEnabled() {
			if improved := s.applyHybridToPipelineResult(samples, result); improved != nil {
				result = improved
			}
		}

		sessionSegs := convertPipelineSegments(result.Segments, chunk.StartMs)
		s.SessionMgr.UpdateChunkWithDiarizedSegments(chunk.SessionID, chunk.ID, result.FullText, sessionSegs, nil)
		return
	}

	segments, err := s.transcribeWithHybrid(samples)
	if err != nil {
		log.Printf("transcription error for chunk %d: %v", chunk.Index, err)
		s.SessionMgr.UpdateChunkTranscription(chunk.SessionID, chunk.ID, "", err)
		return
	}

	fullText := segmentsToText(segments)
	log.Printf("chunk %d: mono transcription complete, %d chars, %d segments (no diarization)", chunk.Index, len(fullText), len(segments))

	sessionSegs := convertPipelineSegments(segments, chunk.StartMs)
	s.SessionMgr.UpdateChunkWithDiarizedSegments(chunk.SessionID, chunk.ID, fullText, sessionSegs, nil)
}

// convertPipelineSegments конвертирует сегменты Pipeline в формат session.
func convertPipelineSegments(aiSegs []ai.TranscriptSegment, chunkStartMs int64) []session.TranscriptSegment {
	result := make([]session.TranscriptSegment, len(aiSegs))
	for i, seg := range aiSegs {
		result[i] = session.TranscriptSegment{
			Start:   seg.Start + chunkStartMs,
			End:     seg.End + chunkStartMs,
			Text:    seg.Text,
			Speaker: seg.Speaker,
			Words:   convertWords(seg.Words, seg.Speaker, chunkStartMs),
		}
	}
	return result
}

func convertSegmentsWithGlobalOffset(aiSegs []ai.TranscriptSegment, speaker string, chunkStartMs int64) []session.TranscriptSegment {
	result := make([]session.TranscriptSegment, len(aiSegs))
	for i, seg := range aiSegs {
		result[i] = session.TranscriptSegment{
			Start:   seg.Start + chunkStartMs,
			End:     seg.End + chunkStartMs,
			Text:    seg.Text,
			Speaker: speaker,
			Words:   convertWords(seg.Words, speaker, chunkStartMs),
		}
	}
	return result
}

func convertWords(aiWords []ai.TranscriptWord, speaker string, chunkStartMs int64) []session.TranscriptWord {
	if len(aiWords) == 0 {
		return nil
	}
	result := make([]session.TranscriptWord, len(aiWords))
	for i, word := range aiWords {
		result[i] = session.TranscriptWord{
			Start:   word.Start + chunkStartMs,
			End:     word.End + chunkStartMs,
			Text:    word.Text,
			P:       word.P,
			Speaker: speaker,
		}
	}
	return result
}

// applySpeakersToTranscriptSegments применяет спикеров из диаризации к сегментам
// транскрипции. Если сегменты содержат word-level timestamps, разбивает их по
// границам диаризации, иначе присваивает спикера целому сегменту.
func applySpeakersToTranscriptSegments(segments []ai.TranscriptSegment, speakerSegs []ai.SpeakerSegment) []ai.TranscriptSegment {
	if len(speakerSegs) == 0 {
		return segments
	}

	hasWords := false
	for _, seg := range segments {
		if len(seg.Words) > 0 {
			hasWords = true
			break
		}
	}
	if hasWords {
		return splitSegmentsBySpeakers(segments, speakerSegs)
	}
	return assignSpeakersToSegments(segments, speakerSegs)
}

// mergeShortDiarizationSegments объединяет короткие сегменты диаризации с соседями,
// чтобы избежать ошибочной атрибуции коротких слов другому спикеру.
func mergeShortDiarizationSegments(speakerSegs []ai.SpeakerSegment, minDurationSec float32) []ai.SpeakerSegment {
	if len(speakerSegs) <= 1 {
		return speakerSegs
	}

	var result []ai.SpeakerSegment
	for i, seg := range speakerSegs {
		duration := seg.End - seg.Start
		if duration >= minDurationSec {
			result = append(result, seg)
			continue
		}

		if len(result) > 0 {
			prev := &result[len(result)-1]
			if prev.Speaker == seg.Speaker || seg.Start-prev.End < diarizationMergeGapSec {
				prev.End = seg.End
				continue
			}
		}

		if i+1 < len(speakerSegs) {
			next := speakerSegs[i+1]
			if next.Speaker == seg.Speaker || next.Start-seg.End < diarizationMergeGapSec {
				seg.Speaker = next.Speaker
				seg.End = next.Start
				result = append(result, seg)
				continue
			}
		}

		result = append(result, seg)
	}

	return result
}

// consolidateMinorSpeakers сливает спикеров, говорящих меньше minSpeakerRatio
// от общего времени, с ближайшим доминирующим соседом.
func consolidateMinorSpeakers(speakerSegs []ai.SpeakerSegment, minSpeakerRatio float32) []ai.SpeakerSegment {
	if len(speakerSegs) <= 1 {
		return speakerSegs
	}

	speakerDurations := make(map[int]float32)
	var totalDuration float32
	for _, seg := range speakerSegs {
		duration := seg.End - seg.Start
		speakerDurations[seg.Speaker] += duration
		totalDuration += duration
	}
	if totalDuration == 0 {
		return speakerSegs
	}

	minorSpeakers := make(map[int]bool)
	for speaker, duration := range speakerDurations {
		if duration/totalDuration < minSpeakerRatio {
			minorSpeakers[speaker] = true
		}
	}
	if len(minorSpeakers) == 0 {
		return speakerSegs
	}

	result := make([]ai.SpeakerSegment, len(speakerSegs))
	copy(result, speakerSegs)

	for i := range result {
		if !minorSpeakers[result[i].Speaker] {
			continue
		}
		switch {
		case i > 0 && !minorSpeakers[result[i-1].Speaker]:
			result[i].Speaker = result[i-1].Speaker
		case i+1 < len(result) && !minorSpeakers[speakerSegs[i+1].Speaker]:
			result[i].Speaker = speakerSegs[i+1].Speaker
		}
	}

	merged := make([]ai.SpeakerSegment, 0, len(result))
	for _, seg := range result {
		if len(merged) > 0 && merged[len(merged)-1].Speaker == seg.Speaker {
			merged[len(merged)-1].End = seg.End
		} else {
			merged = append(merged, seg)
		}
	}
	return merged
}

// splitSegmentsBySpeakers разбивает сегменты транскрипции по границам диаризации,
// используя word-level timestamps. Смена спикера внутри сегмента откладывается
// до ближайшей границы предложения, чтобы не разрывать фразу посередине.
func splitSegmentsBySpeakers(segments []ai.TranscriptSegment, speakerSegs []ai.SpeakerSegment) []ai.TranscriptSegment {
	speakerSegs = consolidateMinorSpeakers(speakerSegs, minorSpeakerShareThreshold)
	speakerSegs = mergeShortDiarizationSegments(speakerSegs, diarizationMinSegmentSec)

	var result []ai.TranscriptSegment

	for _, seg := range segments {
		if len(seg.Words) == 0 {
			newSeg := seg
			newSeg.Speaker = getSpeakerForTimeRange(float32(seg.Start)/1000.0, float32(seg.End)/1000.0, speakerSegs)
			result = append(result, newSeg)
			continue
		}

		var currentWords []ai.TranscriptWord
		var currentSpeaker, pendingSpeakerChange string
		var segStart, segEnd int64

		for i, word := range seg.Words {
			wordSpeaker := getSpeakerForTimeRange(float32(word.Start)/1000.0, float32(word.End)/1000.0, speakerSegs)

			if i == 0 {
				currentSpeaker = wordSpeaker
				currentWords = []ai.TranscriptWord{word}
				segStart, segEnd = word.Start, word.End
				continue
			}

			prevEndsSentence := endsWithSentenceBoundary(seg.Words[i-1].Text)

			if pendingSpeakerChange != "" && prevEndsSentence {
				result = append(result, createSegmentFromWords(currentWords, currentSpeaker, segStart, segEnd))
				currentSpeaker = pendingSpeakerChange
				currentWords = []ai.TranscriptWord{word}
				segStart, segEnd = word.Start, word.End
				pendingSpeakerChange = ""
				continue
			}

			switch {
			case wordSpeaker == currentSpeaker:
				currentWords = append(currentWords, word)
				segEnd = word.End
				if pendingSpeakerChange == wordSpeaker {
					pendingSpeakerChange = ""
				}
			case pendingSpeakerChange == "":
				currentWords = append(currentWords, word)
				segEnd = word.End
				pendingSpeakerChange = wordSpeaker
			default:
				currentWords = append(currentWords, word)
				segEnd = word.End
				if wordSpeaker != pendingSpeakerChange && wordSpeaker != currentSpeaker {
					pendingSpeakerChange = wordSpeaker
				}
			}
		}

		if pendingSpeakerChange != "" && len(currentWords) > 0 && endsWithSentenceBoundary(currentWords[len(currentWords)-1].Text) {
			result = append(result, createSegmentFromWords(currentWords, currentSpeaker, segStart, segEnd))
			currentWords = nil
		}
		if len(currentWords) > 0 {
			result = append(result, createSegmentFromWords(currentWords, currentSpeaker, segStart, segEnd))
		}
	}

	return result
}

// endsWithSentenceBoundary проверяет, заканчивается ли слово на знак конца предложения.
func endsWithSentenceBoundary(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return false
	}
	runes := []rune(text)
	last := runes[len(runes)-1]
	return last == '.' || last == '!' || last == '?' || last == '…'
}

func createSegmentFromWords(words []ai.TranscriptWord, speaker string, start, end int64) ai.TranscriptSegment {
	texts := make([]string, 0, len(words))
	for _, w := range words {
		texts = append(texts, w.Text)
	}
	return ai.TranscriptSegment{
		Start:   start,
		End:     end,
		Text:    strings.Join(texts, " "),
		Speaker: speaker,
		Words:   words,
	}
}

// getSpeakerForTimeRange находит спикера с максимальным перекрытием диапазона,
// либо, если перекрытия нет, ближайшего по середине интервала.
func getSpeakerForTimeRange(startSec, endSec float32, speakerSegs []ai.SpeakerSegment) string {
	bestSpeaker := -1
	bestOverlap := float32(0)
	for _, ss := range speakerSegs {
		if overlap := overlapSec(startSec, endSec, ss.Start, ss.End); overlap > bestOverlap {
			bestOverlap = overlap
			bestSpeaker = ss.Speaker
		}
	}

	if bestSpeaker == -1 {
		midSec := (startSec + endSec) / 2.0
		minDist := float32(math.MaxFloat32)
		for _, ss := range speakerSegs {
			dist := float32(math.Abs(float64(midSec - (ss.Start+ss.End)/2.0)))
			if dist < minDist {
				minDist = dist
				bestSpeaker = ss.Speaker
			}
		}
	}

	if bestSpeaker >= 0 {
		return fmt.Sprintf("Speaker %d", bestSpeaker)
	}
	return "Speaker 0"
}

// GetRecognizedSpeakerName возвращает распознанное имя спикера из глобальной базы
// voiceprints или пустую строку, если спикер не распознан.
func (s *TranscriptionService) GetRecognizedSpeakerName(sessionID string, speakerID int) string {
	for _, p := range s.sessionSpeakerProfiles[sessionID] {
		if p.SpeakerID == speakerID && p.RecognizedName != "" {
			return p.RecognizedName
		}
	}
	return ""
}

// GetSessionSpeakerProfiles возвращает профили спикеров для сессии (для API)
func (s *TranscriptionService) GetSessionSpeakerProfiles(sessionID string) []SessionSpeakerProfile {
	if s.sessionSpeakerProfiles == nil {
		return nil
	}
	return s.sessionSpeakerProfiles[sessionID]
}

// MergeSpeakerProfiles объединяет профили спикеров в сессии: усредняет embeddings
// и удаляет профили источников, кроме целевого.
func (s *TranscriptionService) MergeSpeakerProfiles(sessionID string, sourceIDs []int, targetID int) error {
	if s.sessionSpeakerProfiles == nil {
		return fmt.Errorf("no speaker profiles available")
	}

	profiles := s.sessionSpeakerProfiles[sessionID]
	if len(profiles) == 0 {
		return fmt.Errorf("no profiles for session %s", sessionID)
	}

	var embeddings [][]float32
	var totalDuration float32
	var targetProfile *SessionSpeakerProfile
	targetIdx := -1

	for i := range profiles {
		for _, srcID := range sourceIDs {
			if profiles[i].SpeakerID != srcID {
				continue
			}
			if len(profiles[i].Embedding) > 0 {
				embeddings = append(embeddings, profiles[i].Embedding)
				totalDuration += profiles[i].Duration
			}
			if srcID == targetID {
				targetProfile = &profiles[i]
				targetIdx = i
			}
			break
		}
	}
	if targetProfile == nil {
		return fmt.Errorf("target speaker %d not found in profiles", targetID)
	}

	if len(embeddings) > 1 {
		targetProfile.Embedding = averageEmbeddings(embeddings)
		targetProfile.Duration = totalDuration
	}

	newProfiles := make([]SessionSpeakerProfile, 0, len(profiles))
	for i, p := range profiles {
		if i == targetIdx {
			newProfiles = append(newProfiles, *targetProfile)
			continue
		}
		isSource := false
		for _, srcID := range sourceIDs {
			if p.SpeakerID == srcID && srcID != targetID {
				isSource = true
				break
			}
		}
		if !isSource {
			newProfiles = append(newProfiles, p)
		}
	}

	s.sessionSpeakerProfiles[sessionID] = newProfiles
	log.Printf("MergeSpeakerProfiles: session %s now has %d profiles (was %d)", sessionID, len(newProfiles), len(profiles))
	return nil
}

// averageEmbeddings усредняет несколько embeddings и L2-нормализует результат.
func averageEmbeddings(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	if len(embeddings) == 1 {
		return embeddings[0]
	}

	dim := len(embeddings[0])
	result := make([]float32, dim)
	for _, emb := range embeddings {
		for i := 0; i < dim && i < len(emb); i++ {
			result[i] += emb[i]
		}
	}
	n := float32(len(embeddings))
	for i := range result {
		result[i] /= n
	}

	var sumSq float64
	for _, x := range result {
		sumSq += float64(x * x)
	}
	if sumSq > 1e-10 {
		norm := float32(1.0 / math.Sqrt(sumSq))
		for i := range result {
			result[i] *= norm
		}
	}
	return result
}

// assignSpeakersToSegments присваивает спикеров целым сегментам без разбиения (fallback).
func assignSpeakersToSegments(segments []ai.TranscriptSegment, speakerSegs []ai.SpeakerSegment) []ai.TranscriptSegment {
	result := make([]ai.TranscriptSegment, len(segments))
	copy(result, segments)
	for i := range result {
		result[i].Speaker = getSpeakerForTimeRange(float32(result[i].Start)/1000.0, float32(result[i].End)/1000.0, speakerSegs)
	}
	return result
}

// convertSysSegmentsWithDiarization переводит метки "Speaker N" в "Собеседник N+1",
// а нераспознанные сегменты помечает общим "Собеседник".
func convertSysSegmentsWithDiarization(aiSegs []ai.TranscriptSegment, chunkStartMs int64) []session.TranscriptSegment {
	result := make([]session.TranscriptSegment, len(aiSegs))
	for i, seg := range aiSegs {
		speaker := seg.Speaker
		switch {
		case speaker == "":
			speaker = "Собеседник"
		case strings.HasPrefix(speaker, "Speaker "):
			if num, err := strconv.Atoi(strings.TrimPrefix(speaker, "Speaker ")); err == nil {
				speaker = fmt.Sprintf("Собеседник %d", num+1)
			}
		}

		result[i] = session.TranscriptSegment{
			Start:   seg.Start + chunkStartMs,
			End:     seg.End + chunkStartMs,
			Text:    seg.Text,
			Speaker: speaker,
			Words:   convertWords(seg.Words, speaker, chunkStartMs),
		}
	}
	return result
}

// areChannelsSimilar определяет, являются ли два канала идентичными (дублированное моно).
// Сравнивает относительную разницу амплитуд по всему буферу, а не только первым секундам,
// чтобы не ошибиться, когда один из каналов начинается с тишины.
func areChannelsSimilar(c1, c2 []float32) bool {
	if len(c1) != len(c2) {
		return false
	}
	if len(c1) == 0 {
		return true
	}

	var sumDiff, sumAmp float64
	for i := range c1 {
		v1, v2 := float64(c1[i]), float64(c2[i])
		sumDiff += math.Abs(v1 - v2)
		sumAmp += math.Abs(v1) + math.Abs(v2)
	}

	if sumAmp < 0.01 {
		return true
	}
	return sumDiff/sumAmp < 0.1
}

// readWAVFile читает WAV-файл и возвращает float32 сэмплы (оставлено для совместимости).
func readWAVFile(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(44, 0); err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := stat.Size() - 44
	samplesCount := size / 2
	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}

	samples := make([]float32, samplesCount)
	for i := 0; i < int(samplesCount); i++ {
		sample16 := int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
		samples[i] = float32(sample16) / 32768.0
	}
	return samples, nil
}

// restoreAISegmentTimestamps восстанавливает оригинальные таймкоды после
// транскрипции сжатого (без тишины) аудио.
func restoreAISegmentTimestamps(segments []ai.TranscriptSegment, regions []session.SpeechRegion) []ai.TranscriptSegment {
	if len(regions) == 0 {
		return segments
	}

	restored := make([]ai.TranscriptSegment, len(segments))
	for i, seg := range segments {
		restored[i] = ai.TranscriptSegment{
			Start:   session.MapEngineTimeToRealTime(seg.Start, regions),
			End:     session.MapEngineTimeToRealTime(seg.End, regions),
			Text:    seg.Text,
			Speaker: seg.Speaker,
		}
		if len(seg.Words) > 0 {
			restored[i].Words = make([]ai.TranscriptWord, len(seg.Words))
			for j, word := range seg.Words {
				restored[i].Words[j] = ai.TranscriptWord{
					Start: session.MapEngineTimeToRealTime(word.Start, regions),
					End:   session.MapEngineTimeToRealTime(word.End, regions),
					Text:  word.Text,
					P:     word.P,
				}
			}
		}
	}
	return restored
}

// matchSpeakersWithSession сопоставляет спикеров текущего чанка с уже известными
// профилями сессии и, для новых спикеров, с глобальной базой voiceprints.
// Возвращает map[localSpeakerID]globalSpeakerID для переназначения.
func (s *TranscriptionService) matchSpeakersWithSession(sessionID string, embeddings []ai.SpeakerEmbedding) map[int]int {
	mapping := make(map[int]int)

	if s.sessionSpeakerProfiles == nil {
		s.sessionSpeakerProfiles = make(map[string][]SessionSpeakerProfile)
	}
	profiles := s.sessionSpeakerProfiles[sessionID]

	if len(profiles) == 0 {
		for _, emb := range embeddings {
			profiles = append(profiles, s.buildSpeakerProfile(emb))
		}
		s.sessionSpeakerProfiles[sessionID] = profiles
		if err := s.SaveSessionSpeakerProfiles(sessionID); err != nil {
			log.Printf("matchSpeakersWithSession: failed to save profiles: %v", err)
		}
		return mapping
	}

	for _, emb := range embeddings {
		bestMatch := -1
		bestSimilarity := float32(0)
		for _, profile := range profiles {
			if sim := cosineSimilarity(emb.Embedding, profile.Embedding); sim > bestSimilarity && sim >= speakerProfileMatchThreshold {
				bestSimilarity = sim
				bestMatch = profile.SpeakerID
			}
		}

		switch {
		case bestMatch >= 0 && bestMatch != emb.Speaker:
			mapping[emb.Speaker] = bestMatch
		case bestMatch < 0:
			profiles = append(profiles, s.buildSpeakerProfile(emb))
		}
	}

	s.sessionSpeakerProfiles[sessionID] = profiles
	if err := s.SaveSessionSpeakerProfiles(sessionID); err != nil {
		log.Printf("matchSpeakersWithSession: failed to save profiles: %v", err)
	}
	return mapping
}

// buildSpeakerProfile строит профиль спикера сессии, пытаясь сразу распознать
// его в глобальной базе voiceprints.
func (s *TranscriptionService) buildSpeakerProfile(emb ai.SpeakerEmbedding) SessionSpeakerProfile {
	profile := SessionSpeakerProfile{
		SpeakerID: emb.Speaker,
		Embedding: emb.Embedding,
		Duration:  emb.Duration,
	}

	if s.VoicePrintMatcher == nil {
		return profile
	}
	match := s.VoicePrintMatcher.FindBestMatch(emb.Embedding)
	if match == nil || match.Confidence == "none" {
		return profile
	}

	profile.RecognizedName = match.VoicePrint.Name
	profile.VoicePrintID = match.VoicePrint.ID
	if match.Confidence == "high" {
		s.VoicePrintMatcher.MatchWithAutoUpdate(emb.Embedding)
	}
	return profile
}

// remapSpeakerSegments применяет маппинг спикеров к сегментам диаризации.
func (s *TranscriptionService) remapSpeakerSegments(segments []ai.SpeakerSegment, mapping map[int]int) []ai.SpeakerSegment {
	if len(mapping) == 0 {
		return segments
	}
	result := make([]ai.SpeakerSegment, len(segments))
	for i, seg := range segments {
		result[i] = seg
		if newID, ok := mapping[seg.Speaker]; ok {
			result[i].Speaker = newID
		}
	}
	return result
}

// cosineSimilarity вычисляет косинусное сходство между двумя векторами.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// ClearSessionSpeakerProfiles очищает профили спикеров сессии (при ретранскрипции).
func (s *TranscriptionService) ClearSessionSpeakerProfiles(sessionID string) {
	if s.sessionSpeakerProfiles != nil {
		delete(s.sessionSpeakerProfiles, sessionID)
	}
}

// SaveSessionSpeakerProfiles сохраняет профили спикеров на диск.
func (s *TranscriptionService) SaveSessionSpeakerProfiles(sessionID string) error {
	if s.sessionSpeakerProfiles == nil {
		return nil
	}
	profiles, ok := s.sessionSpeakerProfiles[sessionID]
	if !ok || len(profiles) == 0 {
		return nil
	}

	sess, err := s.SessionMgr.GetSession(sessionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(profiles)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sess.DataDir, "speaker_profiles.json"), data, 0644)
}

// LoadSessionSpeakerProfiles загружает профили спикеров с диска (или из кэша в памяти).
func (s *TranscriptionService) LoadSessionSpeakerProfiles(sessionID string) ([]SessionSpeakerProfile, error) {
	if s.sessionSpeakerProfiles != nil {
		if profiles, ok := s.sessionSpeakerProfiles[sessionID]; ok && len(profiles) > 0 {
			return profiles, nil
		}
	}

	sess, err := s.SessionMgr.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(sess.DataDir, "speaker_profiles.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var profiles []SessionSpeakerProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, err
	}

	if s.sessionSpeakerProfiles == nil {
		s.sessionSpeakerProfiles = make(map[string][]SessionSpeakerProfile)
	}
	s.sessionSpeakerProfiles[sessionID] = profiles
	return profiles, nil
}
