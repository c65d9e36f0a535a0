package inbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"moviesbot/internal/domain"
	"moviesbot/internal/usecase/availability"
	"moviesbot/internal/usecase/comments"
	"moviesbot/internal/usecase/process"
)

type fakeForum struct {
	unread     []domain.Message
	moderators map[string][]string
	payloads   map[string]domain.PostPayload

	read      []string
	replies   map[string]string
	sent      map[string]string
	wikiPages map[string]string
	deleted   []string
}

func (f *fakeForum) FetchByID(_ context.Context, thingID string) (domain.PostPayload, error) {
	payload, ok := f.payloads[thingID]
	if !ok {
		return domain.PostPayload{}, domain.ErrLookupFailed
	}
	return payload, nil
}
func (f *fakeForum) Search(context.Context, string, string) (domain.SearchPage, error) {
	return domain.SearchPage{}, nil
}
func (f *fakeForum) SubmitReply(_ context.Context, parentID, body string) (string, error) {
	if f.replies == nil {
		f.replies = map[string]string{}
	}
	f.replies[parentID] = body
	return "t1_reply", nil
}
func (f *fakeForum) EditReply(context.Context, string, string) error { return nil }
func (f *fakeForum) DeleteThing(_ context.Context, thingID string) error {
	f.deleted = append(f.deleted, thingID)
	return nil
}
func (f *fakeForum) IsModerator(_ context.Context, subreddit, user string) (bool, error) {
	for _, mod := range f.moderators[subreddit] {
		if mod == user {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeForum) SendMessage(_ context.Context, to, subject, body string) error {
	if f.sent == nil {
		f.sent = map[string]string{}
	}
	f.sent[to] = subject + "\n" + body
	return nil
}
func (f *fakeForum) UnreadMessages(context.Context) ([]domain.Message, error) {
	return f.unread, nil
}
func (f *fakeForum) MarkRead(_ context.Context, messageID string) error {
	f.read = append(f.read, messageID)
	return nil
}
func (f *fakeForum) UpdateWikiPage(_ context.Context, _, page, content, _ string) error {
	if f.wikiPages == nil {
		f.wikiPages = map[string]string{}
	}
	f.wikiPages[page] = content
	return nil
}

type fakeLists struct {
	allow   map[string]string
	deny    map[string]string
	removed []string
}

func (f *fakeLists) list(kind domain.ListKind) map[string]string {
	if kind == domain.ListAllow {
		return f.allow
	}
	return f.deny
}
func (f *fakeLists) AddToList(_ context.Context, kind domain.ListKind, subreddit, updatedBy string) error {
	f.list(kind)[subreddit] = updatedBy
	return nil
}
func (f *fakeLists) RemoveFromList(_ context.Context, kind domain.ListKind, subreddit string) error {
	delete(f.list(kind), subreddit)
	f.removed = append(f.removed, string(kind)+":"+subreddit)
	return nil
}
func (f *fakeLists) IsListed(_ context.Context, kind domain.ListKind, subreddit string) (bool, error) {
	_, ok := f.list(kind)[subreddit]
	return ok, nil
}
func (f *fakeLists) ListEntries(_ context.Context, kind domain.ListKind) ([]domain.ListEntry, error) {
	var entries []domain.ListEntry
	for subreddit := range f.list(kind) {
		entries = append(entries, domain.ListEntry{Subreddit: subreddit, Kind: kind})
	}
	return entries, nil
}

type fakeIgnores struct {
	entries map[string]domain.IgnoreEntry
}

func (f *fakeIgnores) SetIgnored(_ context.Context, entry domain.IgnoreEntry) error {
	f.entries[entry.Author] = entry
	return nil
}
func (f *fakeIgnores) IsIgnored(_ context.Context, author string) (bool, error) {
	entry, ok := f.entries[author]
	return ok && entry.Ignored, nil
}

type fakePosts struct {
	records map[string]domain.PostRecord
}

func (f *fakePosts) GetPost(_ context.Context, postID string) (domain.PostRecord, bool, error) {
	rec, ok := f.records[postID]
	return rec, ok, nil
}
func (f *fakePosts) CreatePost(_ context.Context, rec domain.PostRecord) error {
	f.records[rec.ID] = rec
	return nil
}
func (f *fakePosts) SetCommented(_ context.Context, postID string, commented bool) error {
	rec := f.records[postID]
	rec.Commented = commented
	f.records[postID] = rec
	return nil
}
func (f *fakePosts) ClaimProcessing(_ context.Context, postID string) (bool, error) {
	rec := f.records[postID]
	if rec.Processing {
		return false, nil
	}
	rec.Processing = true
	f.records[postID] = rec
	return true, nil
}
func (f *fakePosts) ReleaseProcessing(_ context.Context, postID string) error {
	rec := f.records[postID]
	rec.Processing = false
	f.records[postID] = rec
	return nil
}
func (f *fakePosts) PurgePosts(context.Context) (int64, error) { return 0, nil }

type fakeComments struct {
	items map[string]domain.Comment
}

func (f *fakeComments) CreateComment(_ context.Context, postID, commentID, _ string) error {
	f.items[commentID] = domain.Comment{ID: commentID, PostID: postID}
	return nil
}
func (f *fakeComments) GetComment(_ context.Context, commentID string) (domain.Comment, error) {
	comment, ok := f.items[commentID]
	if !ok {
		return domain.Comment{}, domain.ErrNotFound
	}
	return comment, nil
}
func (f *fakeComments) AppendRevision(context.Context, string, string) (int, error) { return 1, nil }
func (f *fakeComments) GetRevision(context.Context, string, int) (domain.CommentRevision, error) {
	return domain.CommentRevision{}, domain.ErrNotFound
}
func (f *fakeComments) UpdateScore(context.Context, string, int) error { return nil }
func (f *fakeComments) MarkDeleted(_ context.Context, commentID string) error {
	comment := f.items[commentID]
	comment.Deleted = true
	f.items[commentID] = comment
	return nil
}
func (f *fakeComments) ListRecentComments(context.Context, time.Time) ([]domain.Comment, error) {
	return nil, nil
}

type fakeQueue struct {
	jobs []domain.ProcessJob
}

func (q *fakeQueue) Enqueue(_ context.Context, job domain.ProcessJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}
func (q *fakeQueue) Receive(context.Context) (domain.ProcessJob, domain.AckFunc, error) {
	return domain.ProcessJob{}, nil, nil
}

type fakeMetadata struct{}

func (fakeMetadata) LookupByID(_ context.Context, imdbID string) (domain.MovieMeta, error) {
	return domain.MovieMeta{IMDBID: imdbID, Title: "Пример", MediaType: domain.MediaMovie, IMDBRating: "7.0"}, nil
}

type fakeGraph struct{}

func (fakeGraph) ResolveCrossRef(_ context.Context, string2 string) (string, error) { return "mh1", nil }
func (fakeGraph) FetchMedia(_ context.Context, graphID string) (domain.GraphRef, error) {
	return domain.GraphRef{GraphID: graphID}, nil
}
func (fakeGraph) FetchOffers(context.Context, string) ([]domain.Offer, error) {
	return []domain.Offer{{Provider: "Netflix", Method: "broker", URL: "https://n", Mediums: []string{"Netflix"}}}, nil
}

type fakeMovies struct{}

func (fakeMovies) GetGraphRef(context.Context, string) (domain.GraphRef, bool, error) {
	return domain.GraphRef{}, false, nil
}
func (fakeMovies) SaveGraphRef(context.Context, string, domain.GraphRef) error { return nil }

type env struct {
	forum    *fakeForum
	lists    *fakeLists
	ignores  *fakeIgnores
	posts    *fakePosts
	comments *fakeComments
	queue    *fakeQueue
	service  *Service
}

func newEnv() *env {
	e := &env{
		forum:    &fakeForum{moderators: map[string][]string{}, payloads: map[string]domain.PostPayload{}},
		lists:    &fakeLists{allow: map[string]string{}, deny: map[string]string{}},
		ignores:  &fakeIgnores{entries: map[string]domain.IgnoreEntry{}},
		posts:    &fakePosts{records: map[string]domain.PostRecord{}},
		comments: &fakeComments{items: map[string]domain.Comment{}},
		queue:    &fakeQueue{},
	}
	avail := availability.NewService(fakeMetadata{}, fakeGraph{}, fakeMovies{}, nil, zerolog.Nop())
	formatter := comments.NewFormatter("")
	commentSvc := comments.NewService(e.forum, e.posts, e.comments, "moviesbot", "moviesbot")
	processSvc := process.NewService(e.posts, e.forum, e.lists, e.ignores, avail, formatter, commentSvc, zerolog.Nop())
	e.service = NewService(e.forum, e.lists, e.ignores, e.posts, e.comments, commentSvc, processSvc, avail, formatter, e.queue, "moviesbot", "moviesbot", zerolog.Nop())
	return e
}

func TestHandleIgnoreAndRemember(t *testing.T) {
	e := newEnv()
	e.forum.unread = []domain.Message{
		{ID: "t4_1", Author: "user1", Subject: "IGNORE ME", Body: "please"},
		{ID: "t4_2", Author: "user2", Subject: "remember me", Body: "take me back"},
	}

	if err := e.service.HandleUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if entry := e.ignores.entries["user1"]; !entry.Ignored || entry.MessageID != "t4_1" {
		t.Fatalf("user1 должен попасть в игнор: %+v", entry)
	}
	if entry := e.ignores.entries["user2"]; entry.Ignored {
		t.Fatalf("user2 должен быть убран из игнора: %+v", entry)
	}
	if !strings.Contains(e.forum.replies["t4_1"], "Sorry to hear") {
		t.Fatalf("неожиданный ответ на игнор: %q", e.forum.replies["t4_1"])
	}
	if !strings.Contains(e.forum.replies["t4_2"], "Ok, I'll reply") {
		t.Fatalf("неожиданный ответ на возврат: %q", e.forum.replies["t4_2"])
	}
	if len(e.forum.read) != 2 {
		t.Fatalf("оба сообщения должны быть прочитаны: %v", e.forum.read)
	}
}

func TestHandleWhitelistFromModerator(t *testing.T) {
	e := newEnv()
	e.forum.moderators["horror"] = []string{"moduser"}
	e.lists.deny["horror"] = "someone"
	e.forum.unread = []domain.Message{
		{ID: "t4_1", Author: "moduser", Subject: "whitelist", Body: "please whitelist r/horror"},
	}

	if err := e.service.HandleUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if _, ok := e.lists.allow["horror"]; !ok {
		t.Fatalf("сабреддит должен попасть в разрешённые")
	}
	if _, ok := e.lists.deny["horror"]; ok {
		t.Fatalf("сабреддит не может быть в обоих списках")
	}
	if _, ok := e.forum.sent["/r/horror"]; !ok {
		t.Fatalf("модераторы должны получить уведомление: %+v", e.forum.sent)
	}
	if !strings.Contains(e.forum.wikiPages["whitelist"], "/r/horror/") {
		t.Fatalf("вики должна обновляться: %+v", e.forum.wikiPages)
	}
}

func TestHandleBlacklistFromStrangerIsIgnored(t *testing.T) {
	e := newEnv()
	e.forum.unread = []domain.Message{
		{ID: "t4_1", Author: "random", Subject: "blacklist", Body: "blacklist r/horror"},
	}

	if err := e.service.HandleUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(e.lists.deny) != 0 {
		t.Fatalf("не-модератор не меняет списки: %+v", e.lists.deny)
	}
	if len(e.forum.replies) != 0 {
		t.Fatalf("молчим в ответ: %+v", e.forum.replies)
	}
}

func TestHandleDeleteFromOP(t *testing.T) {
	e := newEnv()
	e.posts.records["t3_post"] = domain.PostRecord{ID: "t3_post", Author: "opuser"}
	e.comments.items["t1_bot"] = domain.Comment{ID: "t1_bot", PostID: "t3_post"}
	e.forum.unread = []domain.Message{
		{ID: "t4_1", Author: "opuser", Subject: "delete", Body: "delete t1_bot"},
	}

	if err := e.service.HandleUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(e.forum.deleted) != 1 || e.forum.deleted[0] != "t1_bot" {
		t.Fatalf("комментарий должен удаляться: %+v", e.forum.deleted)
	}
	if !e.comments.items["t1_bot"].Deleted {
		t.Fatalf("комментарий должен быть помечен удалённым")
	}
	if !strings.Contains(e.forum.replies["t4_1"], "I deleted my comment") {
		t.Fatalf("ожидали подтверждение удаления: %q", e.forum.replies["t4_1"])
	}
}

func TestHandleDeleteFromStranger(t *testing.T) {
	e := newEnv()
	e.posts.records["t3_post"] = domain.PostRecord{ID: "t3_post", Author: "opuser"}
	e.comments.items["t1_bot"] = domain.Comment{ID: "t1_bot", PostID: "t3_post"}
	e.forum.unread = []domain.Message{
		{ID: "t4_1", Author: "stranger", Subject: "delete", Body: "delete t1_bot"},
	}

	if err := e.service.HandleUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(e.forum.deleted) != 0 {
		t.Fatalf("чужой запрос не удаляет комментарий")
	}
}

func TestHandleUsernameMention(t *testing.T) {
	e := newEnv()
	e.forum.unread = []domain.Message{
		{ID: "t1_mention", Author: "user", Subject: "username mention", Body: "/u/moviesbot tt0000001", Subreddit: "movies", WasComment: true},
	}

	if err := e.service.HandleUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(e.queue.jobs) != 1 {
		t.Fatalf("упоминание должно давать задачу: %+v", e.queue.jobs)
	}
	job := e.queue.jobs[0]
	if !job.Summoned || job.PostID != "t1_mention" || job.Payload == nil || job.Payload.Subreddit != "movies" {
		t.Fatalf("неожиданная задача: %+v", job)
	}
	if len(e.forum.read) != 1 {
		t.Fatalf("упоминание помечается прочитанным")
	}
}

func TestSummonByModerator(t *testing.T) {
	e := newEnv()
	e.forum.moderators["movies"] = []string{"moduser"}
	e.lists.allow["movies"] = "moduser"
	e.forum.payloads["t3_abc123"] = domain.PostPayload{
		Name: "t3_abc123", Kind: domain.KindSubmission, Author: "author", Subreddit: "movies",
		Title: "какой-то пост",
	}
	e.forum.unread = []domain.Message{
		{ID: "t4_1", Author: "moduser", Subject: "process", Body: "look at r/movies/comments/abc123 please tt0000001"},
	}

	if err := e.service.HandleUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if body, ok := e.forum.replies["t3_abc123"]; !ok || !strings.Contains(body, "Netflix") {
		t.Fatalf("комментарий должен публиковаться под постом: %+v", e.forum.replies)
	}
	if !strings.Contains(e.forum.replies["t4_1"], "Hooray") {
		t.Fatalf("модератор должен получить подтверждение: %q", e.forum.replies["t4_1"])
	}
	if e.posts.records["t3_abc123"].Processing {
		t.Fatalf("захват должен сниматься")
	}
}

func TestSummonByNonModerator(t *testing.T) {
	e := newEnv()
	e.forum.payloads["t3_abc123"] = domain.PostPayload{
		Name: "t3_abc123", Kind: domain.KindSubmission, Author: "author", Subreddit: "movies",
	}
	e.forum.unread = []domain.Message{
		{ID: "t4_1", Author: "random", Subject: "process", Body: "r/movies/comments/abc123 tt0000001"},
	}

	if err := e.service.HandleUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.Contains(e.forum.replies["t4_1"], "only available to moderators") {
		t.Fatalf("ожидали отказ: %q", e.forum.replies["t4_1"])
	}
	if _, ok := e.forum.replies["t3_abc123"]; ok {
		t.Fatalf("комментария быть не должно")
	}
}

func TestSummonWithoutLink(t *testing.T) {
	e := newEnv()
	e.forum.unread = []domain.Message{
		{ID: "t4_1", Author: "moduser", Subject: "re: process", Body: "никакой ссылки"},
	}

	if err := e.service.HandleUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.Contains(e.forum.replies["t4_1"], "can't find a valid reddit link") {
		t.Fatalf("ожидали сообщение о недостающей ссылке: %q", e.forum.replies["t4_1"])
	}
}

func TestUnknownSubjectIsReadSilently(t *testing.T) {
	e := newEnv()
	e.forum.unread = []domain.Message{
		{ID: "t4_1", Author: "user", Subject: "hello there", Body: "hi"},
	}

	if err := e.service.HandleUnread(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(e.forum.read) != 1 {
		t.Fatalf("сообщение должно быть прочитано")
	}
	if len(e.forum.replies) != 0 {
		t.Fatalf("на незнакомую тему не отвечаем")
	}
}
