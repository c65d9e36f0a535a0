package linkextract

import (
	"regexp"
	"sort"
)

// Идентификаторы IMDB встречаются и в ссылках вида imdb.com/title/tt0133093,
// и голым токеном в произвольном тексте.
var imdbIDPattern = regexp.MustCompile(`\btt\d{7,8}\b`)

// IMDBIDs возвращает уникальные идентификаторы фильмов, найденные в тексте.
// Результат отсортирован, порядок вхождений в тексте значения не имеет.
func IMDBIDs(text string) []string {
	matches := imdbIDPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, id := range matches {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IMDBIDsFromSources собирает идентификаторы из нескольких текстовых источников
// и дедуплицирует объединение.
func IMDBIDsFromSources(sources []string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, src := range sources {
		for _, id := range IMDBIDs(src) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
