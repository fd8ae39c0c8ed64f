package http

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/core/service/search"
	"mailbridge/infra/middleware"
)

// searchStubRepo records search calls; everything else is inert.
type searchStubRepo struct {
	textCalls   []string
	senderCalls []string
}

func (r *searchStubRepo) InsertBatch(ctx context.Context, messages []*domain.Message) (int, error) {
	return 0, nil
}
func (r *searchStubRepo) ExistsByUIDFolderAccount(ctx context.Context, uid int64, folder string, accountID int64) (bool, error) {
	return false, nil
}
func (r *searchStubRepo) ExistsByMessageID(ctx context.Context, accountID int64, folder, messageID string) (bool, error) {
	return false, nil
}
func (r *searchStubRepo) HighestUID(ctx context.Context, accountID int64, folder string) (int64, error) {
	return 0, nil
}
func (r *searchStubRepo) MaxUID(ctx context.Context, accountID int64) (int64, error) { return 0, nil }
func (r *searchStubRepo) List(ctx context.Context, userID uuid.UUID, filter out.MessageFilter) ([]*domain.Message, int, error) {
	return nil, 0, nil
}
func (r *searchStubRepo) GetByID(ctx context.Context, userID uuid.UUID, id int64) (*domain.Message, error) {
	return nil, nil
}
func (r *searchStubRepo) SetReadStatus(ctx context.Context, userID uuid.UUID, id int64, isRead bool) error {
	return nil
}
func (r *searchStubRepo) SoftDelete(ctx context.Context, userID uuid.UUID, id int64) error {
	return nil
}
func (r *searchStubRepo) SearchText(ctx context.Context, userID uuid.UUID, query string, page, limit int) ([]*out.SearchHit, int, error) {
	r.textCalls = append(r.textCalls, query)
	return nil, 0, nil
}
func (r *searchStubRepo) SearchSender(ctx context.Context, userID uuid.UUID, sender string, page, limit int) ([]*domain.Message, int, error) {
	r.senderCalls = append(r.senderCalls, sender)
	return nil, 0, nil
}

func newSearchTestApp(repo *searchStubRepo) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalUserID, uuid.New())
		return c.Next()
	})
	h := NewSearchHandler(search.NewService(repo))
	app.Get("/search", h.Search)
	return app
}

func TestSearchEmptyQueryReturnsEmptyPage(t *testing.T) {
	repo := &searchStubRepo{}
	app := newSearchTestApp(repo)

	resp, err := app.Test(httptest.NewRequest("GET", "/search?q=", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200 for a blank query", resp.StatusCode)
	}

	// Whitespace behaves the same; the service trims before touching the
	// store.
	resp, err = app.Test(httptest.NewRequest("GET", "/search?q=%20%20", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200 for a whitespace query", resp.StatusCode)
	}
	if len(repo.textCalls) != 0 {
		t.Errorf("blank queries must not reach the store, got calls %v", repo.textCalls)
	}
}

func TestSearchDispatchesOnParameter(t *testing.T) {
	repo := &searchStubRepo{}
	app := newSearchTestApp(repo)

	resp, err := app.Test(httptest.NewRequest("GET", "/search?q=invoice", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("text search status = %d", resp.StatusCode)
	}
	if len(repo.textCalls) != 1 || repo.textCalls[0] != "invoice" {
		t.Errorf("textCalls = %v", repo.textCalls)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/search?sender=alice", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("sender search status = %d", resp.StatusCode)
	}
	if len(repo.senderCalls) != 1 || repo.senderCalls[0] != "alice" {
		t.Errorf("senderCalls = %v", repo.senderCalls)
	}
}

func TestSearchWithoutParametersIsRejected(t *testing.T) {
	app := newSearchTestApp(&searchStubRepo{})

	resp, err := app.Test(httptest.NewRequest("GET", "/search", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400 when neither q nor sender is present", resp.StatusCode)
	}
}
