//go:build darwin

// Тест полного стека Voice Isolation
// Использует audio.Capture с Voice Isolation режимом
// и сравнивает старую (max) и новую (min) логику микширования
//
// Запуск: cd backend && go run ./cmd/testvoice
// Остановка: Ctrl+C
//
// Создаёт файлы:
// - /tmp/voice_fixed.wav - ИСПРАВЛЕННАЯ логика (min) - должен звучать чисто
// - /tmp/voice_broken.wav - СТАРАЯ логика (max) - звучит роботизированно
// - /tmp/voice_mic_only.wav - только микрофон (эталон)
// - /tmp/voice_sys_only.wav - только системный звук

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aiwisper/audio"
	"aiwisper/session"
)

const (
	voiceTestSampleRate = 24000

	outputFileFixed  = "/tmp/voice_fixed.wav"
	outputFileBroken = "/tmp/voice_broken.wav"
	outputFileMic    = "/tmp/voice_mic_only.wav"
	outputFileSys    = "/tmp/voice_sys_only.wav"
)

func main() {
	log.Println("=== Тест Voice Isolation: сравнение логики микширования ===")
	log.Println()
	log.Println("Создаём файлы:")
	log.Printf("  - %s (ИСПРАВЛЕННАЯ логика min - должен быть чистый)", outputFileFixed)
	log.Printf("  - %s (СТАРАЯ логика max - роботизированный звук)", outputFileBroken)
	log.Printf("  - %s (только микрофон - эталон)", outputFileMic)
	log.Printf("  - %s (только системный звук)", outputFileSys)
	log.Println()
	log.Println("Нажмите Ctrl+C для остановки...")

	capture, err := audio.NewCapture()
	if err != nil {
		log.Fatalf("Ошибка создания audio.Capture: %v", err)
	}
	capture.EnableSystemCapture(true)

	writerFixed, err := session.NewWAVWriter(outputFileFixed, voiceTestSampleRate, 2, 16)
	if err != nil {
		log.Fatalf("Ошибка создания %s: %v", outputFileFixed, err)
	}
	defer writerFixed.Close()

	writerBroken, err := session.NewWAVWriter(outputFileBroken, voiceTestSampleRate, 2, 16)
	if err != nil {
		log.Fatalf("Ошибка создания %s: %v", outputFileBroken, err)
	}
	defer writerBroken.Close()

	writerMic, err := session.NewWAVWriter(outputFileMic, voiceTestSampleRate, 1, 16)
	if err != nil {
		log.Fatalf("Ошибка создания %s: %v", outputFileMic, err)
	}
	defer writerMic.Close()

	writerSys, err := session.NewWAVWriter(outputFileSys, voiceTestSampleRate, 1, 16)
	if err != nil {
		log.Fatalf("Ошибка создания %s: %v", outputFileSys, err)
	}
	defer writerSys.Close()

	if err := capture.StartScreenCaptureKitAudioWithMode("both"); err != nil {
		log.Fatalf("Ошибка запуска Voice Isolation: %v", err)
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	// Отдельные буферы для разных логик
	var micBufferFixed, sysBufferFixed []float32   // для исправленной логики
	var micBufferBroken, sysBufferBroken []float32 // для старой логики

	consume := func(buf []float32, n int) []float32 {
		if n >= len(buf) {
			return buf[:0]
		}
		return buf[n:]
	}

	startTime := time.Now()
	var totalMicSamples, totalSysSamples int64

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)

		for {
			select {
			case <-quit:
				return

			case data, ok := <-capture.Data():
				if !ok {
					return
				}

				samples := data.Samples
				channel := data.Channel

				if channel == audio.ChannelMicrophone {
					micBufferFixed = append(micBufferFixed, samples...)
					micBufferBroken = append(micBufferBroken, samples...)
					totalMicSamples += int64(len(samples))
					writerMic.Write(samples)
				} else {
					sysBufferFixed = append(sysBufferFixed, samples...)
					sysBufferBroken = append(sysBufferBroken, samples...)
					totalSysSamples += int64(len(samples))
					writerSys.Write(samples)
				}

				// === ИСПРАВЛЕННАЯ ЛОГИКА (min) ===
				// Записываем только когда оба буфера имеют данные
				micLen := len(micBufferFixed)
				sysLen := len(sysBufferFixed)
				pairLen := micLen
				if sysLen < pairLen {
					pairLen = sysLen
				}

				if pairLen > 0 {
					stereo := make([]float32, pairLen*2)
					for i := 0; i < pairLen; i++ {
						stereo[i*2] = micBufferFixed[i]
						stereo[i*2+1] = sysBufferFixed[i]
					}
					writerFixed.Write(stereo)
					micBufferFixed = consume(micBufferFixed, pairLen)
					sysBufferFixed = consume(sysBufferFixed, pairLen)
				}

				// === СТАРАЯ ЛОГИКА (max) - создаёт дырки с нулями ===
				micLen = len(micBufferBroken)
				sysLen = len(sysBufferBroken)
				mixLen := micLen
				if sysLen > mixLen {
					mixLen = sysLen
				}

				if mixLen > 0 {
					stereo := make([]float32, mixLen*2)
					for i := 0; i < mixLen; i++ {
						var micSample, sysSample float32
						if i < micLen {
							micSample = micBufferBroken[i]
						}
						if i < sysLen {
							sysSample = sysBufferBroken[i]
						}
						stereo[i*2] = micSample
						stereo[i*2+1] = sysSample
					}
					writerBroken.Write(stereo)
					micBufferBroken = consume(micBufferBroken, mixLen)
					sysBufferBroken = consume(sysBufferBroken, mixLen)
				}
			}
		}
	}()

	<-stopChan
	log.Println("\nОстановка записи...")

	capture.Stop()
	close(quit)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	duration := time.Since(startTime)
	log.Println()
	log.Println("=== Статистика ===")
	log.Printf("Длительность записи: %.1f сек", duration.Seconds())
	log.Printf("Mic сэмплов: %d (%.1f сек)", totalMicSamples, float64(totalMicSamples)/voiceTestSampleRate)
	log.Printf("Sys сэмплов: %d (%.1f сек)", totalSysSamples, float64(totalSysSamples)/voiceTestSampleRate)
	log.Println()
	log.Printf("Fixed (min):  %d стерео сэмплов (%.1f сек)", writerFixed.SamplesWritten()/2, float64(writerFixed.SamplesWritten()/2)/voiceTestSampleRate)
	log.Printf("Broken (max): %d стерео сэмплов (%.1f сек)", writerBroken.SamplesWritten()/2, float64(writerBroken.SamplesWritten()/2)/voiceTestSampleRate)
	log.Println()
	log.Println("=== Сравните файлы ===")
	log.Printf("afplay %s  # Исправленный - должен быть чистый", outputFileFixed)
	log.Printf("afplay %s  # Сломанный - роботизированный звук", outputFileBroken)
	log.Printf("afplay %s  # Эталон микрофона", outputFileMic)
}
