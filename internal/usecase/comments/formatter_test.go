package comments

import (
	"errors"
	"strings"
	"testing"

	"moviesbot/internal/usecase/availability"
)

func meter(v int) *int { return &v }

func TestFormatSingleMovie(t *testing.T) {
	res := availability.Result{
		Movies: []availability.Movie{{
			IMDBID:      "tt0133093",
			Title:       "The Matrix",
			IMDBRating:  "8.7",
			TomatoMeter: meter(88),
			TomatoURL:   "https://www.rottentomatoes.com/m/matrix",
			GraphTitle:  "The Matrix",
			AltID:       "mhmov-the-matrix",
			Categories: map[string]map[string]availability.Listing{
				"Subscription": {"Netflix": {URL: "https://netflix.com/watch/1"}},
			},
		}},
		Categories:    []string{"Subscription"},
		FriendlyNames: []string{"Netflix"},
	}

	got, err := NewFormatter("").Format(res)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	lines := strings.Split(got, "\n")
	if lines[0] != "Here's where you can Netflix the movie listed:" {
		t.Fatalf("неожиданная первая строка: %q", lines[0])
	}
	// Вступление заканчивается пустой строкой, таблица начинается с четвёртой.
	if lines[3] != "Title | IMDB | Rotten Tomatoes | Subscription" {
		t.Fatalf("неожиданный заголовок: %q", lines[3])
	}
	if lines[4] != "---|---|---:|---:" {
		t.Fatalf("неожиданный разделитель: %q", lines[4])
	}
	wantRow := "**[The Matrix](https://nextqueue.com/movie/the-matrix)**|" +
		"[8.7](http://www.imdb.com/title/tt0133093/)|" +
		"[88%](https://www.rottentomatoes.com/m/matrix)|" +
		"[Netflix](https://netflix.com/watch/1)"
	if lines[5] != wantRow {
		t.Fatalf("неожиданная строка фильма:\n got %q\nwant %q", lines[5], wantRow)
	}
}

func TestFormatNoOffers(t *testing.T) {
	res := availability.Result{Movies: []availability.Movie{{IMDBID: "tt0000001", Title: "Пример", Exclude: true}}}
	if _, err := NewFormatter("").Format(res); !errors.Is(err, ErrNoContent) {
		t.Fatalf("ожидали ErrNoContent, получили %v", err)
	}
}

func TestFormatPluralAndEmptyCells(t *testing.T) {
	res := availability.Result{
		Movies: []availability.Movie{
			{
				IMDBID: "tt0000001", Title: "Первый",
				Categories: map[string]map[string]availability.Listing{
					"Rent": {"Amazon Video": {URL: "https://amzn/1", Price: 2.99}},
				},
			},
			{IMDBID: "tt0000002", Title: "Второй", Exclude: true},
		},
		Categories:    []string{"Subscription", "Rent"},
		FriendlyNames: []string{"Amazon Video", "Netflix"},
	}

	got, err := NewFormatter("https://nextqueue.com/movie/").Format(res)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	lines := strings.Split(got, "\n")
	if lines[0] != "Here's where you can Amazon Video/Netflix the movies listed:" {
		t.Fatalf("неожиданная первая строка: %q", lines[0])
	}
	// Фильм без узла графа ссылается на IMDB, пустая категория — пустая ячейка.
	if !strings.HasSuffix(lines[5], "|[Amazon&nbsp;Video&nbsp;-&nbsp;$2.99](https://amzn/1)") {
		t.Fatalf("ожидали экранированную цену аренды: %q", lines[5])
	}
	if !strings.Contains(lines[5], "**[Первый](http://www.imdb.com/title/tt0000001/)**|[N/A](http://www.imdb.com/title/tt0000001/)|N/A|") {
		t.Fatalf("ожидали N/A без ссылок: %q", lines[5])
	}
	if !strings.HasSuffix(lines[6], "|N/A||") {
		t.Fatalf("у исключённого фильма должны быть пустые ячейки: %q", lines[6])
	}
}

func TestFormatJoinsProvidersInCell(t *testing.T) {
	res := availability.Result{
		Movies: []availability.Movie{{
			IMDBID: "tt0000001", Title: "Пример",
			Categories: map[string]map[string]availability.Listing{
				"Subscription": {
					"Netflix": {URL: "https://n"},
					"Hulu":    {URL: "https://h"},
				},
			},
		}},
		Categories:    []string{"Subscription"},
		FriendlyNames: []string{"Netflix"},
	}

	got, err := NewFormatter("").Format(res)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.Contains(got, "[Hulu](https://h) &#183; [Netflix](https://n)") {
		t.Fatalf("провайдеры должны склеиваться через &#183;: %q", got)
	}
}
