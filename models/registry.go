// Package models предоставляет управление ONNX/CoreML моделями распознавания речи,
// диаризации и идентификации голоса.
package models

// ModelType различает семейства моделей, которыми управляет Manager. От типа
// зависит, как модель разложена на диске (один файл, тройка encoder/decoder/joint)
// и какой движок (ai.TranscriptionEngine) может её загрузить.
type ModelType string

const (
	// ModelTypeGigaAMCTC - одиночный .onnx энкодер CTC (GigaAM v2/v3)
	ModelTypeGigaAMCTC ModelType = "gigaam-ctc"
	// ModelTypeGigaAMRNNT - тройка encoder/decoder/joint (GigaAM RNNT)
	ModelTypeGigaAMRNNT ModelType = "gigaam-rnnt"
	// ModelTypeSileroVAD - одиночный .onnx VAD
	ModelTypeSileroVAD ModelType = "silero-vad"
	// ModelTypeSherpaDiarization - пара segmentation+embedding моделей sherpa-onnx
	ModelTypeSherpaDiarization ModelType = "sherpa-diarization"
	// ModelTypeSpeakerEncoder - WeSpeaker ResNet34 эмбеддер голоса
	ModelTypeSpeakerEncoder ModelType = "speaker-encoder"
	// ModelTypeFluidASR - Parakeet TDT через CoreML, веса идут в комплекте с
	// Swift-бинарником, поэтому у записи реестра нет DownloadURL
	ModelTypeFluidASR ModelType = "fluidasr"
	// ModelTypeGGML - одиночный .bin файл whisper.cpp
	ModelTypeGGML ModelType = "ggml"
)

// IsASREngine сообщает, может ли модель этого типа быть активным движком
// транскрипции (в отличие от вспомогательных моделей VAD/диаризации/voiceprint).
func (t ModelType) IsASREngine() bool {
	switch t {
	case ModelTypeGigaAMCTC, ModelTypeGigaAMRNNT, ModelTypeFluidASR, ModelTypeGGML:
		return true
	default:
		return false
	}
}

// ModelInfo информация о модели в каталоге
type ModelInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        ModelType `json:"type"`
	Size        string    `json:"size"`
	SizeBytes   int64     `json:"sizeBytes"`
	Description string    `json:"description"`
	Languages   []string  `json:"languages"`
	Recommended bool      `json:"recommended,omitempty"`

	// DownloadURL - единственный файл модели (CTC/VAD/encoder) либо encoder
	// тройки RNNT.
	DownloadURL string `json:"downloadUrl,omitempty"`
	// IsRNNT - модель разложена на 3 файла (encoder/decoder/joint), а не на один
	IsRNNT     bool   `json:"isRNNT,omitempty"`
	DecoderURL string `json:"decoderUrl,omitempty"`
	JointURL   string `json:"jointUrl,omitempty"`

	// VocabURL - sentencepiece/BPE словарь, нужен CTC и RNNT движкам GigaAM
	VocabURL string `json:"vocabUrl,omitempty"`
	// EmbeddingURL - для ModelTypeSherpaDiarization: модель эмбеддера спикера,
	// DownloadURL в этом случае хранит модель сегментации
	EmbeddingURL string `json:"embeddingUrl,omitempty"`
}

// ModelStatus статус модели на устройстве
type ModelStatus string

const (
	ModelStatusNotDownloaded ModelStatus = "not_downloaded"
	ModelStatusDownloading   ModelStatus = "downloading"
	ModelStatusDownloaded    ModelStatus = "downloaded"
	ModelStatusActive        ModelStatus = "active"
	ModelStatusError         ModelStatus = "error"
)

// ModelState состояние модели с информацией
type ModelState struct {
	ModelInfo
	Status   ModelStatus `json:"status"`
	Progress float64     `json:"progress,omitempty"` // 0-100
	Error    string      `json:"error,omitempty"`
	Path     string      `json:"path,omitempty"` // Путь к скачанной модели (файл или директория для RNNT)
}

// Registry реестр моделей, которые умеет скачивать и подключать Manager
var Registry = []ModelInfo{
	// ===== GigaAM CTC (whole-word encoder, одиночный .onnx) =====
	{
		ID:          "gigaam-v2-ctc",
		Name:        "GigaAM v2 CTC",
		Type:        ModelTypeGigaAMCTC,
		Size:        "240 MB",
		SizeBytes:   251_000_000,
		Description: "Быстрое потоковое распознавание, 25ms mel-окно",
		Languages:   []string{"ru"},
		Recommended: true,
		DownloadURL: "https://huggingface.co/istupakov/gigaam-v2-onnx/resolve/main/v2_ctc.onnx",
		VocabURL:    "https://huggingface.co/istupakov/gigaam-v2-onnx/resolve/main/v2_vocab.txt",
	},
	{
		ID:          "gigaam-v3-ctc",
		Name:        "GigaAM v3 CTC",
		Type:        ModelTypeGigaAMCTC,
		Size:        "245 MB",
		SizeBytes:   256_000_000,
		Description: "Уточнённое mel-окно (20ms), выше точность на коротких фразах",
		Languages:   []string{"ru"},
		DownloadURL: "https://huggingface.co/istupakov/gigaam-v3-onnx/resolve/main/v3_ctc.onnx",
		VocabURL:    "https://huggingface.co/istupakov/gigaam-v3-onnx/resolve/main/v3_vocab.txt",
	},

	// ===== GigaAM RNNT (encoder/decoder/joint тройка) =====
	{
		ID:          "gigaam-v2-rnnt",
		Name:        "GigaAM v2 RNNT",
		Type:        ModelTypeGigaAMRNNT,
		Size:        "228 MB",
		SizeBytes:   239_000_000,
		Description: "Авторегрессивное декодирование, лучше расставляет пунктуацию по словам",
		Languages:   []string{"ru"},
		IsRNNT:      true,
		DownloadURL: "https://huggingface.co/istupakov/gigaam-v2-onnx/resolve/main/v2_rnnt_encoder.onnx",
		DecoderURL:  "https://huggingface.co/istupakov/gigaam-v2-onnx/resolve/main/v2_rnnt_decoder.onnx",
		JointURL:    "https://huggingface.co/istupakov/gigaam-v2-onnx/resolve/main/v2_rnnt_joint.onnx",
		VocabURL:    "https://huggingface.co/istupakov/gigaam-v2-onnx/resolve/main/v2_vocab.txt",
	},
	{
		ID:          "gigaam-v3-rnnt",
		Name:        "GigaAM v3 RNNT",
		Type:        ModelTypeGigaAMRNNT,
		Size:        "233 MB",
		SizeBytes:   244_000_000,
		Description: "Самая точная модель из набора, рекомендуется для офлайн-обработки",
		Languages:   []string{"ru"},
		Recommended: true,
		IsRNNT:      true,
		DownloadURL: "https://huggingface.co/istupakov/gigaam-v3-onnx/resolve/main/v3_rnnt_encoder.onnx",
		DecoderURL:  "https://huggingface.co/istupakov/gigaam-v3-onnx/resolve/main/v3_rnnt_decoder.onnx",
		JointURL:    "https://huggingface.co/istupakov/gigaam-v3-onnx/resolve/main/v3_rnnt_joint.onnx",
		VocabURL:    "https://huggingface.co/istupakov/gigaam-v3-onnx/resolve/main/v3_vocab.txt",
	},

	// ===== whisper.cpp (in-process CGO, C7 Whisper-family) =====
	{
		ID:          "ggml-large-v3-turbo",
		Name:        "Whisper Large V3 Turbo",
		Type:        ModelTypeGGML,
		Size:        "1.5 GB",
		SizeBytes:   1_624_417_792,
		Description: "Быстрая мультиязычная модель с высоким качеством",
		Languages:   []string{"multi"},
		DownloadURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-turbo.bin",
	},
	{
		ID:          "ggml-large-v3",
		Name:        "Whisper Large V3",
		Type:        ModelTypeGGML,
		Size:        "2.9 GB",
		SizeBytes:   3_094_623_691,
		Description: "Максимальное качество среди мультиязычных моделей, медленнее turbo",
		Languages:   []string{"multi"},
		DownloadURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin",
	},

	// ===== Служебные модели: VAD, диаризация, идентификация голоса =====
	{
		ID:          "silero-vad-v5",
		Name:        "Silero VAD v5",
		Type:        ModelTypeSileroVAD,
		Size:        "2 MB",
		SizeBytes:   2_300_000,
		Description: "Определение речевой активности для отсечения тишины перед ASR",
		Languages:   []string{"multi"},
		Recommended: true,
		DownloadURL: "https://github.com/snakers4/silero-vad/raw/master/src/silero_vad/data/silero_vad.onnx",
	},
	{
		ID:          "sherpa-diarization-pyannote",
		Name:        "Pyannote Segmentation + 3D-Speaker",
		Type:        ModelTypeSherpaDiarization,
		Size:        "210 MB",
		SizeBytes:   220_000_000,
		Description: "Сегментация перекрывающихся спикеров и эмбеддинги для кластеризации",
		Languages:   []string{"multi"},
		Recommended: true,
		DownloadURL:  "https://github.com/k2-fsa/sherpa-onnx/releases/download/speaker-segmentation-models/sherpa-onnx-pyannote-segmentation-3-0.onnx",
		EmbeddingURL: "https://github.com/k2-fsa/sherpa-onnx/releases/download/speaker-recongition-models/3dspeaker_speech_eres2netv2_sv_zh-cn_16k-common.onnx",
	},
	{
		ID:          "fluidasr-parakeet",
		Name:        "Parakeet TDT v3 (FluidAudio)",
		Type:        ModelTypeFluidASR,
		Size:        "встроена",
		Description: "CoreML-модель, распаковывается и кэшируется Swift-бинарником при первом запуске",
		Languages:   []string{"ru", "en"},
	},
	{
		ID:          "wespeaker-resnet34",
		Name:        "WeSpeaker ResNet34",
		Type:        ModelTypeSpeakerEncoder,
		Size:        "26 MB",
		SizeBytes:   27_300_000,
		Description: "Эмбеддинги голоса для сопоставления с сохранённым voiceprint",
		Languages:   []string{"multi"},
		DownloadURL: "https://github.com/k2-fsa/sherpa-onnx/releases/download/speaker-recongition-models/wespeaker_zh_cnceleb_resnet34.onnx",
	},
}

// GetModelByID возвращает модель по ID
func GetModelByID(id string) *ModelInfo {
	for i := range Registry {
		if Registry[i].ID == id {
			return &Registry[i]
		}
	}
	return nil
}

// GetModelsByType возвращает модели определённого типа
func GetModelsByType(modelType ModelType) []ModelInfo {
	var result []ModelInfo
	for _, m := range Registry {
		if m.Type == modelType {
			result = append(result, m)
		}
	}
	return result
}

// GetRecommendedModels возвращает рекомендуемые модели
func GetRecommendedModels() []ModelInfo {
	var result []ModelInfo
	for _, m := range Registry {
		if m.Recommended {
			result = append(result, m)
		}
	}
	return result
}
