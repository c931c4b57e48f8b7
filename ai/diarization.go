package ai

import (
	"fmt"
	"math"
)

// minDiarizableSamples - сегменты короче этого (в сэмплах, 16kHz) пропускаются
// как слишком короткие для надёжного эмбеддинга (обычно тишина или шум).
const minDiarizableSamples = 1600 // 0.1s @ 16kHz

// samplesPerMs - коэффициент перевода миллисекунд в сэмплы при 16kHz mono.
const samplesPerMs = 16

// embeddingClusterThreshold - порог косинусного расстояния для объединения
// двух сегментов в один кластер speaker'а. ResNet34-эмбеддинги: 0.0 - один и
// тот же голос, >0.5-0.7 - разные; 0.65 выбран консервативно, чтобы не
// схлопывать разных говорящих в одного.
const embeddingClusterThreshold = 0.65

// Diarizer - лёгкая диаризация на основе эмбеддингов без внешнего рантайма
// (sherpa-onnx/FluidAudio): извлекает speaker-эмбеддинг на каждый сегмент и
// кластеризует их transitive-closure по порогу косинусного расстояния.
// Используется как запасной вариант там, где тяжёлые диаризаторы недоступны
// или не нужны (короткие записи, юнит-тесты).
type Diarizer struct {
	encoder *SpeakerEncoder
}

// NewDiarizer создаёт диаризатор поверх уже инициализированного энкодера.
func NewDiarizer(encoder *SpeakerEncoder) *Diarizer {
	return &Diarizer{encoder: encoder}
}

// Diarize проставляет Speaker каждому сегменту на основе кластеризации
// эмбеддингов, извлечённых из соответствующего аудио-диапазона.
func (d *Diarizer) Diarize(segments []TranscriptSegment, samples []float32) ([]TranscriptSegment, error) {
	if len(segments) == 0 {
		return segments, nil
	}

	embeddings, validIndices := d.embedSegments(segments, samples)

	if len(validIndices) < 2 {
		if len(validIndices) == 1 {
			segments[validIndices[0]].Speaker = "Speaker 0"
		}
		return segments, nil
	}

	validEmbeddings := make([][]float32, len(validIndices))
	for i, idx := range validIndices {
		validEmbeddings[i] = embeddings[idx]
	}

	clusters := clusterEmbeddings(validEmbeddings, embeddingClusterThreshold)
	for i, clusterID := range clusters {
		segments[validIndices[i]].Speaker = fmt.Sprintf("Speaker %d", clusterID)
	}

	return segments, nil
}

// embedSegments извлекает speaker-эмбеддинг для каждого сегмента, у которого
// хватает аудио (>= minDiarizableSamples). Возвращает эмбеддинги (с "дырами"
// на пропущенных индексах) и список индексов, для которых эмбеддинг получен.
func (d *Diarizer) embedSegments(segments []TranscriptSegment, samples []float32) ([][]float32, []int) {
	embeddings := make([][]float32, len(segments))
	validIndices := make([]int, 0, len(segments))

	for i, seg := range segments {
		segAudio := sliceSegmentAudio(seg, samples)
		if len(segAudio) < minDiarizableSamples {
			continue
		}

		emb, err := d.encoder.Encode(segAudio)
		if err != nil {
			continue
		}
		embeddings[i] = emb
		validIndices = append(validIndices, i)
	}

	return embeddings, validIndices
}

// sliceSegmentAudio возвращает аудио-диапазон сегмента с клампингом границ к
// длине буфера; пустой срез, если границы вырождены.
func sliceSegmentAudio(seg TranscriptSegment, samples []float32) []float32 {
	start := int(seg.Start * samplesPerMs)
	end := int(seg.End * samplesPerMs)

	if start < 0 {
		start = 0
	}
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return nil
	}
	return samples[start:end]
}

// clusterEmbeddings объединяет эмбеддинги в кластеры через union-find по
// transitive closure отношения "расстояние < threshold": если A похож на B,
// а B похож на C, то A и C окажутся в одном кластере, даже если расстояние
// между ними само по себе выше порога. Возвращает нормализованный
// (0, 1, 2, ...) ID кластера для каждого входного эмбеддинга.
func clusterEmbeddings(embeddings [][]float32, threshold float64) []int {
	n := len(embeddings)
	if n == 0 {
		return nil
	}

	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if cosineDistance(embeddings[i], embeddings[j]) < threshold {
				uf.union(i, j)
			}
		}
	}

	clusterID := make(map[int]int, n)
	result := make([]int, n)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		id, ok := clusterID[root]
		if !ok {
			id = len(clusterID)
			clusterID[root] = id
		}
		result[i] = id
	}
	return result
}

// unionFind - система непересекающихся множеств с path compression,
// используется clusterEmbeddings для transitive-closure кластеризации.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (uf *unionFind) find(i int) int {
	if uf.parent[i] != i {
		uf.parent[i] = uf.find(uf.parent[i])
	}
	return uf.parent[i]
}

func (uf *unionFind) union(i, j int) {
	ri, rj := uf.find(i), uf.find(j)
	if ri != rj {
		uf.parent[ri] = rj
	}
}

// cosineDistance = 1 - cosine similarity, диапазон [0, 2]: 0 для идентичных
// векторов, 2 для противоположно направленных.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if similarity > 1.0 {
		similarity = 1.0
	} else if similarity < -1.0 {
		similarity = -1.0
	}
	return 1.0 - similarity
}
