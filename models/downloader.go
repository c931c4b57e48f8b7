package models

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ProgressFunc функция для отчёта о прогрессе (0-100)
type ProgressFunc func(progress float64)

// DownloadFile скачивает файл по URL с отображением прогресса
func DownloadFile(ctx context.Context, url, destPath string, expectedSize int64, onProgress ProgressFunc) error {
	// Создаём директорию если нужно
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Создаём временный файл
	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	// Создаём HTTP запрос с контекстом
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Выполняем запрос
	client := &http.Client{
		Timeout: 0, // Без таймаута для больших файлов
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		os.Remove(tmpPath)
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	// Определяем размер файла
	totalSize := resp.ContentLength
	if totalSize <= 0 && expectedSize > 0 {
		totalSize = expectedSize
	}

	// Создаём reader с прогрессом
	reader := &progressReader{
		reader:     resp.Body,
		totalSize:  totalSize,
		onProgress: onProgress,
	}

	// Копируем данные
	_, err = io.Copy(out, reader)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}

	// Закрываем файл перед переименованием
	out.Close()

	// Переименовываем временный файл
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// progressReader обёртка для io.Reader с отслеживанием прогресса
type progressReader struct {
	reader       io.Reader
	totalSize    int64
	downloaded   int64
	onProgress   ProgressFunc
	lastReport   time.Time
	reportPeriod time.Duration
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)

		// Ограничиваем частоту отчётов
		now := time.Now()
		if pr.reportPeriod == 0 {
			pr.reportPeriod = 500 * time.Millisecond
		}

		if pr.onProgress != nil && (now.Sub(pr.lastReport) >= pr.reportPeriod || err == io.EOF) {
			pr.lastReport = now
			if pr.totalSize > 0 {
				progress := float64(pr.downloaded) / float64(pr.totalSize) * 100
				pr.onProgress(progress)
			}
		}
	}
	return n, err
}

// DownloadAndExtractTarBz2 скачивает tar.bz2 архив и распаковывает в указанную директорию
func DownloadAndExtractTarBz2(ctx context.Context, url, destDir string, expectedSize int64, onProgress ProgressFunc) error {
	// Создаём директорию если нужно
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Создаём HTTP запрос с контекстом
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Выполняем запрос
	client := &http.Client{
		Timeout: 0,
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	// Определяем размер файла
	totalSize := resp.ContentLength
	if totalSize <= 0 && expectedSize > 0 {
		totalSize = expectedSize
	}

	// Создаём reader с прогрессом
	reader := &progressReader{
		reader:     resp.Body,
		totalSize:  totalSize,
		onProgress: onProgress,
	}

	// Декомпрессия bzip2
	bzReader := bzip2.NewReader(reader)

	// Распаковка tar
	tarReader := tar.NewReader(bzReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		// Определяем целевой путь
		targetPath := filepath.Join(destDir, header.Name)

		// Защита от path traversal
		if !strings.HasPrefix(filepath.Clean(targetPath), filepath.Clean(destDir)) {
			return fmt.Errorf("invalid file path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			// Создаём директорию для файла
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

			// Создаём файл
			outFile, err := os.Create(targetPath)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}

			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return fmt.Errorf("failed to write file: %w", err)
			}
			outFile.Close()
		}
	}

	return nil
}

// FindOnnxModelInDir ищет .onnx файл в директории (рекурсивно)
func FindOnnxModelInDir(dir string) (string, error) {
	var modelPath string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), ".onnx") {
			modelPath = path
			return filepath.SkipAll // Нашли первый .onnx файл
		}
		return nil
	})

	if err != nil && err != filepath.SkipAll {
		return "", err
	}

	if modelPath == "" {
		return "", fmt.Errorf("no .onnx file found in %s", dir)
	}

	return modelPath, nil
}

// weightedPart описывает один файл внутри составной модели вместе с его долей
// в общем размере, используется только для распределения прогресса между файлами.
type weightedPart struct {
	url    string
	weight float64
}

// downloadParts скачивает набор файлов в destDir, сообщая суммарный прогресс
// через один onProgress. При ошибке на любом файле удаляет всё, что успело
// скачаться ранее, чтобы не оставлять модель в частично-рабочем состоянии.
func downloadParts(ctx context.Context, parts []weightedPart, destDir string, totalSize int64, onProgress ProgressFunc) ([]string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	paths := make([]string, 0, len(parts))
	var downloadedSize int64

	for i, part := range parts {
		destPath := filepath.Join(destDir, filepath.Base(part.url))
		partSize := int64(float64(totalSize) * part.weight)

		wrapped := downloadedSize
		progress := func(p float64) {
			if onProgress == nil {
				return
			}
			fileProgress := float64(partSize) * p / 100
			onProgress((float64(wrapped) + fileProgress) / float64(totalSize) * 100)
		}

		if err := DownloadFile(ctx, part.url, destPath, partSize, progress); err != nil {
			for _, p := range paths {
				os.Remove(p)
			}
			return nil, fmt.Errorf("failed to download part %d/%d: %w", i+1, len(parts), err)
		}

		paths = append(paths, destPath)
		downloadedSize += partSize
	}

	if onProgress != nil {
		onProgress(100)
	}
	return paths, nil
}

// DownloadRNNTModel скачивает тройку encoder/decoder/joint GigaAM RNNT модели
// и, если указан, словарь. Возвращает путь к encoder файлу - decoder, joint и
// словарь будут рядом в той же директории.
func DownloadRNNTModel(ctx context.Context, model ModelInfo, destDir string, onProgress ProgressFunc) (string, error) {
	if !model.IsRNNT {
		return "", fmt.Errorf("model %s is not RNNT type", model.ID)
	}

	// encoder - подавляющее большинство веса модели, decoder и joint - единицы МБ
	parts := []weightedPart{
		{url: model.DownloadURL, weight: 0.99},
		{url: model.DecoderURL, weight: 0.005},
		{url: model.JointURL, weight: 0.005},
	}
	if model.VocabURL != "" {
		parts = append(parts, weightedPart{url: model.VocabURL, weight: 0})
	}

	paths, err := downloadParts(ctx, parts, destDir, model.SizeBytes, onProgress)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// DownloadDiarizationModel скачивает пару моделей sherpa-onnx (сегментация +
// эмбеддер спикера) в одну директорию. Возвращает путь к модели сегментации.
func DownloadDiarizationModel(ctx context.Context, model ModelInfo, destDir string, onProgress ProgressFunc) (string, error) {
	if model.Type != ModelTypeSherpaDiarization {
		return "", fmt.Errorf("model %s is not a diarization model", model.ID)
	}

	parts := []weightedPart{
		{url: model.DownloadURL, weight: 0.5},
		{url: model.EmbeddingURL, weight: 0.5},
	}

	paths, err := downloadParts(ctx, parts, destDir, model.SizeBytes, onProgress)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// IsRNNTModelComplete проверяет, что все 3 файла RNNT модели скачаны
func IsRNNTModelComplete(encoderPath string) bool {
	// Вычисляем пути к decoder и joint
	dir := filepath.Dir(encoderPath)
	base := filepath.Base(encoderPath)

	var decoderPath, jointPath string
	if strings.Contains(base, ".int8.") {
		decoderPath = filepath.Join(dir, strings.Replace(base, "_encoder.int8.", "_decoder.int8.", 1))
		jointPath = filepath.Join(dir, strings.Replace(base, "_encoder.int8.", "_joint.int8.", 1))
	} else {
		decoderPath = filepath.Join(dir, strings.Replace(base, "_encoder.", "_decoder.", 1))
		jointPath = filepath.Join(dir, strings.Replace(base, "_encoder.", "_joint.", 1))
	}

	// Проверяем существование всех файлов
	for _, path := range []string{encoderPath, decoderPath, jointPath} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return false
		}
	}

	return true
}
