package comments

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"moviesbot/internal/usecase/availability"
)

// ErrNoContent возвращается, когда ни у одного фильма нет ни одного
// предложения: публиковать такой ответ не имеет смысла.
var ErrNoContent = errors.New("нет предложений ни по одному фильму")

// Formatter собирает markdown-таблицу доступности фильмов.
type Formatter struct {
	// ShortURLBase — база коротких ссылок на страницу фильма.
	ShortURLBase string
}

// NewFormatter создаёт форматтер.
func NewFormatter(shortURLBase string) *Formatter {
	if shortURLBase == "" {
		shortURLBase = "https://nextqueue.com/movie/"
	}
	return &Formatter{ShortURLBase: strings.TrimRight(shortURLBase, "/") + "/"}
}

// Format превращает сводку доступности в тело комментария.
// Возвращает ErrNoContent, если предложений нет вовсе.
func (f *Formatter) Format(res availability.Result) (string, error) {
	if !res.HasOffers() {
		return "", ErrNoContent
	}

	plural := ""
	if len(res.Movies) > 1 {
		plural = "s"
	}
	var lines []string
	if len(res.FriendlyNames) == 0 {
		lines = append(lines, "Sorry, no streaming, rental, or purchase links found for the following movies:\n\n")
	} else {
		lines = append(lines, fmt.Sprintf("Here's where you can %s the movie%s listed:\n\n", strings.Join(res.FriendlyNames, "/"), plural))
	}

	heading := append([]string{"Title", "IMDB", "Rotten Tomatoes"}, res.Categories...)
	separator := make([]string, 0, len(heading))
	for i := range heading {
		sep := "---"
		// Колонки с предложениями выравниваются вправо.
		if i > 1 {
			sep += ":"
		}
		separator = append(separator, sep)
	}
	lines = append(lines, strings.Join(heading, " | "))
	lines = append(lines, strings.Join(separator, "|"))

	for _, movie := range res.Movies {
		lines = append(lines, f.movieRow(movie, res.Categories))
	}
	return strings.Join(lines, "\n"), nil
}

func (f *Formatter) movieRow(movie availability.Movie, categories []string) string {
	imdbLink := fmt.Sprintf("http://www.imdb.com/title/%s/", movie.IMDBID)

	title := movie.Title
	shortURL := imdbLink
	if movie.AltID != "" {
		shortURL = f.ShortURLBase + strings.TrimPrefix(movie.AltID, "mhmov-")
		if movie.GraphTitle != "" {
			title = movie.GraphTitle
		}
	}
	cells := []string{fmt.Sprintf("**[%s](%s)**", title, shortURL)}

	imdbRating := movie.IMDBRating
	if imdbRating == "" {
		imdbRating = "N/A"
	}
	cells = append(cells, fmt.Sprintf("[%s](%s)", imdbRating, imdbLink))

	rtRating := "N/A"
	if movie.TomatoMeter != nil {
		rtRating = fmt.Sprintf("%d%%", *movie.TomatoMeter)
	}
	if movie.TomatoURL != "" {
		cells = append(cells, fmt.Sprintf("[%s](%s)", rtRating, movie.TomatoURL))
	} else {
		cells = append(cells, rtRating)
	}

	for _, category := range categories {
		cells = append(cells, categoryCell(movie.Categories[category]))
	}
	return strings.Join(cells, "|")
}

// categoryCell склеивает предложения провайдеров в одну ячейку таблицы.
// Пробелы заменяются на &nbsp;, иначе markdown разорвёт ячейку.
func categoryCell(providers map[string]availability.Listing) string {
	if len(providers) == 0 {
		return ""
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		listing := providers[name]
		label := name
		if listing.Price > 0 {
			label = fmt.Sprintf("%s - $%s", name, strconv.FormatFloat(listing.Price, 'f', -1, 64))
		}
		link := fmt.Sprintf("[%s](%s)", label, listing.URL)
		parts = append(parts, strings.ReplaceAll(link, " ", "&nbsp;"))
	}
	return strings.Join(parts, " &#183; ")
}
