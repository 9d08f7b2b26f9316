/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/livecontexto/avatars"
	"github.com/Seednode/livecontexto/intake"
	"github.com/Seednode/livecontexto/live"
	"github.com/Seednode/livecontexto/message"
	"github.com/Seednode/livecontexto/ranking"
	"github.com/Seednode/livecontexto/round"
	"github.com/Seednode/livecontexto/words"
)

type MockRanker struct {
	mock.Mock
}

func (m *MockRanker) FetchDistance(ctx context.Context, roundID int, word string) (ranking.Distance, error) {
	args := m.Called(ctx, roundID, word)
	return args.Get(0).(ranking.Distance), args.Error(1)
}

func (m *MockRanker) FetchHint(ctx context.Context, roundID, distance int) (string, error) {
	args := m.Called(ctx, roundID, distance)
	return args.String(0), args.Error(1)
}

type recorder struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (r *recorder) Broadcast(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()

	return nil
}

func (r *recorder) all() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]map[string]any(nil), r.msgs...)
}

func (r *recorder) types() []string {
	var out []string
	for _, m := range r.all() {
		out = append(out, m["type"].(string))
	}

	return out
}

func (r *recorder) last() map[string]any {
	all := r.all()
	if len(all) == 0 {
		return nil
	}

	return all[len(all)-1]
}

type queueRecorder struct {
	mu    sync.Mutex
	items []intake.Item
}

func (q *queueRecorder) Enqueue(item intake.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)

	return nil
}

type fakeSource struct {
	mu        sync.Mutex
	connected bool
	usernames []string
	err       error
	discErr   error
	onConnect []live.Event
}

func (f *fakeSource) Connect(_ context.Context, username string, sink live.Sink) error {
	f.mu.Lock()
	f.usernames = append(f.usernames, username)
	err := f.err
	events := f.onConnect
	if err == nil {
		f.connected = true
	}
	f.mu.Unlock()

	if err != nil {
		return err
	}

	for _, ev := range events {
		sink(ev)
	}

	return nil
}

func (f *fakeSource) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.discErr != nil {
		return f.discErr
	}
	if !f.connected {
		return live.ErrNotConnected
	}
	f.connected = false

	return nil
}

func (f *fakeSource) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected
}

type fixture struct {
	game   *Game
	round  *round.State
	ranker *MockRanker
	hub    *recorder
	queue  *queueRecorder
	source *fakeSource
	cache  *avatars.Cache
}

func sequence(ids ...int) round.Option {
	var mu sync.Mutex
	i := 0

	return round.WithRandom(func(int) int {
		mu.Lock()
		defer mu.Unlock()

		id := ids[i%len(ids)]
		i++

		return id - 1
	})
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		round:  round.New(round.DefaultMaxRoundID, sequence(42, 100, 7)),
		ranker: &MockRanker{},
		hub:    &recorder{},
		queue:  &queueRecorder{},
		source: &fakeSource{},
		cache:  avatars.NewCache(10, nil, zerolog.Nop()),
	}

	f.game = New(context.Background(), cfg, Deps{
		Round:   f.round,
		Ranker:  f.ranker,
		Hub:     f.hub,
		Avatars: f.cache,
		Source:  f.source,
	}, zerolog.Nop())
	f.game.AttachQueue(f.queue)

	t.Cleanup(f.game.Close)

	return f
}

// pendingRestarts reports scheduled post-win restarts that have not fired.
func pendingRestarts(g *Game) int {
	g.timerMu.Lock()
	defer g.timerMu.Unlock()

	return len(g.timers)
}

func ann() live.User {
	return live.User{ID: "u-ann", Nickname: "Ann", AvatarURLs: []string{"https://cdn.example/ann.webp"}}
}

func bo() live.User {
	return live.User{ID: "u-bo", Nickname: "Bo"}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, Config{})

	assert.Equal(t, 42, f.game.Start())
	f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 12, User: "Ann", UserID: "u-ann"})

	state, ok := f.game.Snapshot().(message.GameState)
	require.True(t, ok)
	assert.Equal(t, message.TypeGameState, state.Type)
	assert.Equal(t, 42, state.GameNumber)

	want := map[string]message.Guess{"apple": {Distance: 12, User: "Ann", UserID: "u-ann"}}
	if diff := cmp.Diff(want, state.Guesses); diff != "" {
		t.Errorf("guesses mismatch (-want +got):\n%s", diff)
	}
}

func TestComment_QueuesNormalizedWord(t *testing.T) {
	f := newFixture(t, Config{})
	f.game.Start()

	f.game.HandleEvent(live.Comment{User: ann(), Text: "  Apple! "})
	f.game.HandleEvent(live.Comment{User: ann(), Text: "two words"})
	f.game.HandleEvent(live.Comment{User: ann(), Text: "b4"})
	f.game.HandleEvent(live.Comment{User: bo(), Text: "x"})

	require.Len(t, f.queue.items, 1)
	it := f.queue.items[0]
	assert.Equal(t, "apple", it.Word)
	assert.Equal(t, "u-ann", it.User.ID)
	assert.Equal(t, "https://cdn.example/ann.webp", it.AvatarURL)
	assert.False(t, it.EnqueuedAt.IsZero())
	cached, ok := f.cache.Resolve(context.Background(), "u-ann", nil)
	assert.True(t, ok)
	assert.Equal(t, it.AvatarURL, cached)
	assert.Empty(t, f.hub.all())
}

func TestComment_FirstTokenPolicy(t *testing.T) {
	f := newFixture(t, Config{Normalizer: words.Normalizer{Policy: words.FirstToken}})
	f.game.Start()

	f.game.HandleEvent(live.Comment{User: bo(), Text: "banana split. yum"})

	require.Len(t, f.queue.items, 1)
	assert.Equal(t, "banana", f.queue.items[0].Word)
	assert.Empty(t, f.queue.items[0].AvatarURL)
}

func TestComment_AlreadyGuessed(t *testing.T) {
	f := newFixture(t, Config{})
	f.game.Start()
	f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 12, User: "Ann", UserID: "u-ann"})

	f.game.HandleEvent(live.Comment{User: bo(), Text: "APPLE"})

	assert.Empty(t, f.queue.items)
	require.Equal(t, []string{message.TypeAlreadyGuessed}, f.hub.types())

	m := f.hub.last()
	assert.Equal(t, "Bo", m["user"])
	assert.Equal(t, "apple", m["word"])
	assert.Equal(t, float64(12), m["distance"])
	assert.Nil(t, m["avatar_url"])
}

func TestResolve(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.game.Resolve(context.Background(), intake.Item{Word: "apple"})
	assert.ErrorIs(t, err, round.ErrRoundClosed)

	f.game.Start()
	f.ranker.On("FetchDistance", mock.Anything, 42, "apple").Return(ranking.Distance{Word: "apple", Distance: 12}, nil)
	f.ranker.On("FetchDistance", mock.Anything, 42, "pear").Return(ranking.Distance{}, ranking.ErrTimeout)

	res, err := f.game.Resolve(context.Background(), intake.Item{Word: "apple"})
	require.NoError(t, err)
	assert.Equal(t, intake.Result{RoundID: 42, Distance: 12}, res)

	_, err = f.game.Resolve(context.Background(), intake.Item{Word: "pear"})
	assert.ErrorIs(t, err, ranking.ErrTimeout)

	f.round.RecordGuess(42, round.GuessRecord{Word: "target", Distance: 0})
	_, err = f.game.Resolve(context.Background(), intake.Item{Word: "apple"})
	assert.ErrorIs(t, err, round.ErrRoundClosed)

	f.ranker.AssertNumberOfCalls(t, "FetchDistance", 2)
}

func TestApply_Accepted(t *testing.T) {
	f := newFixture(t, Config{})
	f.game.Start()

	item := intake.Item{User: ann(), Word: "apple", AvatarURL: "data:a", EnqueuedAt: time.Now()}
	f.game.Apply(context.Background(), item, intake.Result{RoundID: 42, Distance: 12})

	assert.Equal(t, []string{message.TypeGuessNotification, message.TypeGuessUpdate}, f.hub.types())

	notification := f.hub.all()[0]
	assert.Equal(t, "Ann", notification["user"])
	assert.Equal(t, float64(12), notification["distance"])
	assert.Equal(t, "data:a", notification["avatar_url"])

	update := f.hub.last()["guesses"].(map[string]any)
	assert.Equal(t, map[string]any{
		"distance":   float64(12),
		"user":       "Ann",
		"user_id":    "u-ann",
		"avatar_url": "data:a",
	}, update["apple"])
}

func TestApply_DuplicateAndStale(t *testing.T) {
	f := newFixture(t, Config{})
	f.game.Start()
	f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 12, User: "Ann"})

	f.game.Apply(context.Background(), intake.Item{User: bo(), Word: "apple"}, intake.Result{RoundID: 42, Distance: 99})
	require.Equal(t, []string{message.TypeAlreadyGuessed}, f.hub.types())
	assert.Equal(t, float64(12), f.hub.last()["distance"])

	f.game.Apply(context.Background(), intake.Item{User: bo(), Word: "pear"}, intake.Result{RoundID: 17, Distance: 5})
	assert.Len(t, f.hub.all(), 1)
	assert.False(t, f.round.IsGuessed("pear"))
}

func TestApply_WinnerThenRestart(t *testing.T) {
	f := newFixture(t, Config{WinDelay: 30 * time.Millisecond})
	f.game.Start()

	f.round.RecordGuess(42, round.GuessRecord{Word: "fruit", Distance: 5, User: "Bo"})
	f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 2, User: "Ann"})
	f.round.RecordGuess(42, round.GuessRecord{Word: "stone", Distance: 900, User: "Bo"})
	f.round.RecordGuess(42, round.GuessRecord{Word: "grape", Distance: 2, User: "Bo"})

	f.game.Apply(context.Background(), intake.Item{User: ann(), Word: "pear", AvatarURL: "data:a"}, intake.Result{RoundID: 42, Distance: 0})

	require.Equal(t, []string{message.TypeGuessNotification, message.TypeWinner}, f.hub.types())

	winner := f.hub.last()
	assert.Equal(t, "pear", winner["word"])
	assert.Equal(t, "Ann", winner["user"])

	var board []string
	for _, e := range winner["leaderboard"].([]any) {
		board = append(board, e.(map[string]any)["word"].(string))
	}
	assert.Equal(t, []string{"pear", "apple", "grape"}, board)

	assert.Equal(t, round.Won, f.round.Phase())
	assert.Equal(t, 1, pendingRestarts(f.game))

	require.Eventually(t, func() bool {
		return f.hub.last()["type"] == message.TypeGameStart
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, round.Active, f.round.Phase())
	assert.Equal(t, 100, f.round.RoundID())
	assert.Equal(t, float64(100), f.hub.last()["game_number"])
	assert.Equal(t, 0, pendingRestarts(f.game))
}

func TestApply_StaleRestartIsSkipped(t *testing.T) {
	f := newFixture(t, Config{WinDelay: 30 * time.Millisecond})
	f.game.Start()

	f.game.Apply(context.Background(), intake.Item{User: ann(), Word: "pear"}, intake.Result{RoundID: 42, Distance: 0})
	f.game.HandleCommand(message.Control{Action: message.ActionResetGame})

	assert.Equal(t, 100, f.round.RoundID())

	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 100, f.round.RoundID())
	assert.Equal(t, []string{
		message.TypeGuessNotification,
		message.TypeWinner,
		message.TypeGameStart,
	}, f.hub.types())
}

func TestClose_CancelsRestart(t *testing.T) {
	f := newFixture(t, Config{WinDelay: 20 * time.Millisecond})
	f.game.Start()

	f.game.Apply(context.Background(), intake.Item{User: ann(), Word: "pear"}, intake.Result{RoundID: 42, Distance: 0})
	f.game.Close()

	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, round.Won, f.round.Phase())
	assert.Equal(t, 0, pendingRestarts(f.game))
}

func TestGift(t *testing.T) {
	t.Run("streak still running is ignored", func(t *testing.T) {
		f := newFixture(t, Config{GiftAutoGuess: true})
		f.game.Start()
		f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 7})

		f.game.HandleEvent(live.Gift{User: bo(), Name: "Rose", Streakable: true, Streaking: true})

		assert.Empty(t, f.hub.all())
		f.ranker.AssertNotCalled(t, "FetchHint", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no guesses yet", func(t *testing.T) {
		f := newFixture(t, Config{GiftAutoGuess: true})
		f.game.Start()

		f.game.HandleEvent(live.Gift{User: bo(), Name: "Lion"})

		assert.Empty(t, f.hub.all())
	})

	t.Run("hint and auto-guess", func(t *testing.T) {
		f := newFixture(t, Config{GiftAutoGuess: true})
		f.game.Start()
		f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 7})
		f.ranker.On("FetchHint", mock.Anything, 42, 3).Return("orchard", nil)

		f.game.HandleEvent(live.Gift{User: ann(), Name: "Rose", Streakable: true, Streaking: false})

		require.Equal(t, []string{message.TypeHint, message.TypeGuessUpdate}, f.hub.types())

		hint := f.hub.all()[0]
		assert.Equal(t, "orchard", hint["word"])
		assert.Equal(t, float64(3), hint["distance"])
		assert.Equal(t, "Ann", hint["gifter"])

		rec, ok := f.round.Lookup("orchard")
		require.True(t, ok)
		assert.Equal(t, 3, rec.Distance)
		assert.Equal(t, "u-ann", rec.UserID)
		assert.Equal(t, "https://cdn.example/ann.webp", rec.AvatarURL)
	})

	t.Run("hint word already guessed", func(t *testing.T) {
		f := newFixture(t, Config{GiftAutoGuess: true})
		f.game.Start()
		f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 7})
		f.round.RecordGuess(42, round.GuessRecord{Word: "orchard", Distance: 40})
		f.ranker.On("FetchHint", mock.Anything, 42, 3).Return("orchard", nil)

		f.game.HandleEvent(live.Gift{User: ann(), Name: "Lion"})

		assert.Equal(t, []string{message.TypeHint}, f.hub.types())
		rec, _ := f.round.Lookup("orchard")
		assert.Equal(t, 40, rec.Distance)
	})

	t.Run("auto-guess disabled", func(t *testing.T) {
		f := newFixture(t, Config{GiftAutoGuess: false})
		f.game.Start()
		f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 7})
		f.ranker.On("FetchHint", mock.Anything, 42, 3).Return("orchard", nil)

		f.game.HandleEvent(live.Gift{User: ann(), Name: "Lion"})

		assert.Equal(t, []string{message.TypeHint}, f.hub.types())
		assert.False(t, f.round.IsGuessed("orchard"))
	})

	t.Run("hint service failure", func(t *testing.T) {
		f := newFixture(t, Config{GiftAutoGuess: true})
		f.game.Start()
		f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 7})
		f.ranker.On("FetchHint", mock.Anything, 42, 3).Return("", ranking.ErrFailure)

		f.game.HandleEvent(live.Gift{User: ann(), Name: "Lion"})

		assert.Empty(t, f.hub.all())
	})
}

func TestFreeHint(t *testing.T) {
	f := newFixture(t, Config{})
	f.game.Start()

	f.game.HandleCommand(message.Control{Action: message.ActionFreeHint})
	assert.Equal(t, "No guesses yet! Need at least one guess for a hint.", f.hub.last()["message"])

	f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 1})
	f.ranker.On("FetchHint", mock.Anything, 42, 1).Return("", ranking.ErrMalformed).Once()

	f.game.HandleCommand(message.Control{Action: message.ActionFreeHint})
	assert.Equal(t, message.TypeSystem, f.hub.last()["type"])
	assert.Equal(t, "Failed to get hint from API. Try again!", f.hub.last()["message"])

	f.ranker.On("FetchHint", mock.Anything, 42, 1).Return("pear", nil).Once()

	f.game.HandleCommand(message.Control{Action: message.ActionFreeHint})
	hint := f.hub.last()
	assert.Equal(t, message.TypeHint, hint["type"])
	assert.Equal(t, "pear", hint["word"])
	assert.Equal(t, "Game Master (Free)", hint["gifter"])
	assert.False(t, f.round.IsGuessed("pear"))
}

func TestConnectCommand(t *testing.T) {
	f := newFixture(t, Config{})
	f.game.Start()
	f.source.onConnect = []live.Event{live.Connected{UniqueID: "streamer"}}

	f.game.HandleCommand(message.Control{Action: message.ActionConnect})
	f.game.HandleCommand(message.Control{Action: message.ActionConnect, Username: "  @streamer "})

	assert.Equal(t, []string{DefaultUsername, "@streamer"}, f.source.usernames)
	assert.Equal(t, []string{
		message.TypeStatus, message.TypeSystem, message.TypeGameStart,
		message.TypeStatus, message.TypeSystem, message.TypeGameStart,
	}, f.hub.types())

	all := f.hub.all()
	assert.Equal(t, "connecting", all[0]["status"])
	assert.Equal(t, "Connecting to @isaackogz...", all[0]["message"])
	assert.Equal(t, "Connected to @streamer", all[1]["message"])
	assert.Equal(t, float64(100), all[2]["game_number"])
}

func TestConnectCommand_Failures(t *testing.T) {
	f := newFixture(t, Config{})

	f.source.err = &live.RelayError{Message: "streamer is not currently live"}
	f.game.HandleCommand(message.Control{Action: message.ActionConnect, Username: "streamer"})

	assert.Equal(t, message.TypeError, f.hub.last()["type"])
	assert.Equal(t, "streamer is not currently live", f.hub.last()["message"])

	f.source.err = errors.New("dial tcp: connection refused")
	f.game.HandleCommand(message.Control{Action: message.ActionConnect, Username: "streamer"})

	assert.Equal(t, "Error connecting to streamer: dial tcp: connection refused", f.hub.last()["message"])
	assert.False(t, f.source.Connected())
}

func TestDisconnectCommand(t *testing.T) {
	f := newFixture(t, Config{})

	f.game.HandleCommand(message.Control{Action: message.ActionDisconnect})
	assert.Empty(t, f.hub.all())

	f.source.connected = true
	f.game.HandleCommand(message.Control{Action: message.ActionDisconnect})
	assert.Equal(t, "Disconnected from livestream", f.hub.last()["message"])

	f.source.discErr = errors.New("broken pipe")
	f.game.HandleCommand(message.Control{Action: message.ActionDisconnect})
	assert.Equal(t, "Error disconnecting: broken pipe", f.hub.last()["message"])
}

func TestResetAndUnknownCommands(t *testing.T) {
	f := newFixture(t, Config{})
	f.game.Start()
	f.round.RecordGuess(42, round.GuessRecord{Word: "apple", Distance: 9})

	f.game.HandleCommand(message.Control{Action: "dance"})
	assert.Empty(t, f.hub.all())

	f.game.HandleCommand(message.Control{Action: message.ActionResetGame})
	assert.Equal(t, []string{message.TypeGameStart}, f.hub.types())
	assert.False(t, f.round.IsGuessed("apple"))
	assert.Equal(t, 100, f.round.RoundID())
}

func TestLiveEvents(t *testing.T) {
	f := newFixture(t, Config{})

	f.game.HandleEvent(live.Follow{User: ann()})
	f.game.HandleEvent(live.Share{User: bo()})
	f.game.HandleEvent(live.Disconnected{})

	all := f.hub.all()
	require.Len(t, all, 3)

	assert.Equal(t, message.TypeFollow, all[0]["type"])
	assert.Equal(t, "Ann", all[0]["user"])
	assert.Equal(t, "https://cdn.example/ann.webp", all[0]["avatar_url"])

	assert.Equal(t, message.TypeShare, all[1]["type"])
	assert.Equal(t, "Bo", all[1]["user"])

	assert.Equal(t, "Disconnected from livestream", all[2]["message"])
}

func TestPipeline_BroadcastsPreserveArrivalOrder(t *testing.T) {
	f := newFixture(t, Config{WinDelay: time.Hour})
	f.game.Start()

	comments := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel"}

	for i, w := range comments {
		// earlier words answer slower, so completions arrive out of order
		delay := time.Duration(len(comments)-i) * 4 * time.Millisecond
		distance := 100 + i
		if w == "hotel" {
			distance = 0
		}
		f.ranker.On("FetchDistance", mock.Anything, 42, w).
			After(delay).
			Return(ranking.Distance{Word: w, Distance: distance}, nil)
	}

	q := intake.New(f.game, intake.Options{Concurrency: 3, Interval: time.Millisecond}, zerolog.Nop())
	f.game.AttachQueue(q)

	errs := make(chan error, 1)
	go func() { errs <- q.Run(context.Background()) }()

	for _, w := range comments {
		f.game.HandleEvent(live.Comment{User: bo(), Text: w})
	}

	q.Close()
	require.NoError(t, <-errs)

	var notified []string
	var kinds []string
	for _, m := range f.hub.all() {
		switch m["type"] {
		case message.TypeGuessNotification:
			notified = append(notified, m["word"].(string))
		case message.TypeGuessUpdate, message.TypeWinner:
			kinds = append(kinds, m["type"].(string))
		}
	}

	assert.Equal(t, comments, notified)
	assert.Len(t, kinds, len(comments))
	assert.Equal(t, message.TypeWinner, kinds[len(kinds)-1])
	assert.Equal(t, round.Won, f.round.Phase())
}
