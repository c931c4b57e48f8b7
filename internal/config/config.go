package config

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
)

type Config struct {
	ModelPath string
	DataDir   string
	ModelsDir string
	Port      string
	GRPCAddr  string

	// LLM настройки
	OllamaURL          string // URL Ollama API (по умолчанию http://localhost:11434)
	OllamaModel        string // Модель для улучшения транскрипции
	AutoImproveWithLLM bool   // Автоматически улучшать транскрипцию через LLM

	// TraceLog - путь к файлу журнала процесса. Пусто = не писать в файл
	// (только stdout). Ротируется lumberjack'ом (см. setupLogging в main.go).
	TraceLog string
}

func Load() *Config {
	// Подгружаем .env, если он есть рядом с рабочей директорией - переменные
	// из него становятся дефолтами для флагов ниже (flag всё ещё выигрывает,
	// если передан явно). Отсутствие .env - не ошибка, это обычный случай.
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using flags/system environment")
	}

	modelPath := flag.String("model", envOr("AIWISPER_MODEL", "gigaam-v3-rnnt"), "ID of the active transcription model (see models.Registry)")
	dataDir := flag.String("data", envOr("AIWISPER_DATA_DIR", "data/sessions"), "Directory for session data")
	modelsDir := flag.String("models", envOr("AIWISPER_MODELS_DIR", ""), "Directory for downloaded models (default: dataDir/../models)")
	port := flag.String("port", envOr("AIWISPER_PORT", "8080"), "Server port")
	grpcAddr := flag.String("grpc-addr", envOr("AIWISPER_GRPC_ADDR", defaultGRPCAddress()), "gRPC listen address (unix:/path/to.sock or npipe:////./pipe/aiwisper-grpc)")

	// LLM настройки
	ollamaURL := flag.String("ollama-url", envOr("AIWISPER_OLLAMA_URL", "http://localhost:11434"), "Ollama API URL")
	ollamaModel := flag.String("ollama-model", envOr("AIWISPER_OLLAMA_MODEL", "llama3.2"), "Ollama model for transcription improvement")
	autoImprove := flag.Bool("auto-improve", envOr("AIWISPER_AUTO_IMPROVE", "") == "true", "Auto-improve transcription with LLM")
	traceLog := flag.String("trace-log", envOr("AIWISPER_TRACE_LOG", ""), "Path to rotating process log file (empty = stdout only)")

	flag.Parse()

	// Determine models directory
	finalModelsDir := *modelsDir
	if finalModelsDir == "" {
		finalModelsDir = filepath.Join(filepath.Dir(*dataDir), "models")
	}

	return &Config{
		ModelPath:          *modelPath,
		DataDir:            *dataDir,
		ModelsDir:          finalModelsDir,
		Port:               *port,
		GRPCAddr:           *grpcAddr,
		OllamaURL:          *ollamaURL,
		OllamaModel:        *ollamaModel,
		AutoImproveWithLLM: *autoImprove,
		TraceLog:           *traceLog,
	}
}

// envOr возвращает значение переменной окружения env, либо fallback если она не задана.
func envOr(env, fallback string) string {
	if v, ok := os.LookupEnv(env); ok {
		return v
	}
	return fallback
}

func defaultGRPCAddress() string {
	if runtime.GOOS == "windows" {
		return "npipe:\\\\.\\pipe\\aiwisper-grpc"
	}
	return "unix:/tmp/aiwisper-grpc.sock"
}
