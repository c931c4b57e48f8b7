package voiceprint

import (
	"log"
	"math"
	"sort"
)

// Matcher выполняет поиск совпадений embedding'ов против хранилища голосовых
// отпечатков (§4.11 распознавание спикеров по глобальной галерее).
type Matcher struct {
	store *Store
}

// NewMatcher создаёт новый matcher поверх хранилища.
func NewMatcher(store *Store) *Matcher {
	return &Matcher{store: store}
}

// FindBestMatch ищет voiceprint с максимальным косинусным сходством к embedding.
// Возвращает nil, если ни один отпечаток не проходит ThresholdMin.
func (m *Matcher) FindBestMatch(embedding []float32) *MatchResult {
	matches := m.rankMatches(embedding, ThresholdMin)
	if len(matches) == 0 {
		return nil
	}
	best := matches[0]
	log.Printf("[VoicePrint] match found: %s (similarity=%.2f, confidence=%s)",
		best.VoicePrint.Name, best.Similarity, best.Confidence)
	return &best
}

// FindAllMatches возвращает все отпечатки с similarity >= threshold,
// отсортированные по убыванию сходства.
func (m *Matcher) FindAllMatches(embedding []float32, threshold float32) []MatchResult {
	return m.rankMatches(embedding, threshold)
}

// rankMatches сравнивает embedding со всей галереей и возвращает прошедшие
// порог результаты, отсортированные от наиболее похожего к наименее.
func (m *Matcher) rankMatches(embedding []float32, threshold float32) []MatchResult {
	if m.store == nil {
		return nil
	}

	voiceprints := m.store.GetAll()
	matches := make([]MatchResult, 0, len(voiceprints))

	for i := range voiceprints {
		vp := voiceprints[i]
		similarity := CosineSimilarity(embedding, vp.Embedding)
		if similarity < threshold {
			continue
		}
		matches = append(matches, MatchResult{
			VoicePrint: &vp,
			Similarity: similarity,
			Confidence: GetConfidence(similarity),
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches
}

// CosineSimilarity вычисляет косинусное сходство между двумя векторами,
// возвращая значение в [-1, 1], где 1 означает идентичные направления.
func CosineSimilarity(a, b []float32) float32 {
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

// CosineDistance = 1 - CosineSimilarity, используется кластеризацией диаризации.
func CosineDistance(a, b []float32) float64 {
	return 1.0 - float64(CosineSimilarity(a, b))
}

// MatchWithAutoUpdate ищет совпадение и, если уверенность "high", усредняет
// embedding хранимого отпечатка с только что увиденным (инкрементальное
// уточнение голосового отпечатка при повторных встречах).
func (m *Matcher) MatchWithAutoUpdate(embedding []float32) *MatchResult {
	match := m.FindBestMatch(embedding)
	if match != nil && match.Confidence == "high" {
		if err := m.store.UpdateEmbedding(match.VoicePrint.ID, embedding); err != nil {
			log.Printf("[VoicePrint] failed to update embedding for %s: %v", match.VoicePrint.ID, err)
		}
	}
	return match
}

// GetStore возвращает хранилище, с которым работает matcher.
func (m *Matcher) GetStore() *Store {
	return m.store
}
