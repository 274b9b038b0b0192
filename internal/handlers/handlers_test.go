package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"github.com/tangle-social/backend/internal/aggregates"
	"github.com/tangle-social/backend/internal/auth"
	"github.com/tangle-social/backend/internal/cache"
	"github.com/tangle-social/backend/internal/engagement"
	"github.com/tangle-social/backend/internal/feed"
	"github.com/tangle-social/backend/internal/queue"
	"github.com/tangle-social/backend/internal/repository"
	"github.com/tangle-social/backend/internal/testutil"
	"gorm.io/gorm"
)

// APITestSuite drives the full router over an in-memory database
type APITestSuite struct {
	suite.Suite
	db     *gorm.DB
	router *gin.Engine
	broker *queue.MemoryBroker
}

func (s *APITestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.db = testutil.SetupDB(s.T())

	users := repository.NewUserRepository(s.db)
	posts := repository.NewPostRepository(s.db)
	kv := cache.NewMemory()
	agg := aggregates.New(kv, repository.NewAggregateSource(users, posts))
	s.broker = queue.NewMemoryBroker()
	dispatcher := queue.NewDispatcher(s.broker)

	authService := auth.NewService(users, []byte("test-secret"), time.Hour, kv)
	engagementService := engagement.NewService(users, posts, agg, dispatcher)
	assembler := feed.NewAssembler(posts, agg)

	h := NewHandlers(authService, engagementService, assembler, users)
	s.router = h.SetupRouter(RouterOptions{ServiceName: "test"})
}

// request performs an HTTP call against the router and decodes the JSON body
func (s *APITestSuite) request(method, path, token string, body interface{}) (int, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	// identity encoding keeps the recorder body readable in tests
	req.Header.Set("Accept-Encoding", "identity")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w.Code, decoded
}

// registerUser creates an account and returns its token and user ID
func (s *APITestSuite) registerUser(username string) (token, userID string) {
	code, body := s.request(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email":        username + "@example.com",
		"username":     username,
		"password":     "hunter2hunter2",
		"display_name": username,
	})
	s.Require().Equal(http.StatusCreated, code)
	token = body["token"].(string)
	userID = body["user"].(map[string]interface{})["id"].(string)
	return token, userID
}

func (s *APITestSuite) TestHealthCheck() {
	code, body := s.request(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, code)
	s.Equal("ok", body["status"])
}

func (s *APITestSuite) TestRegisterLoginMe() {
	token, _ := s.registerUser("alice")

	code, body := s.request(http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	})
	s.Equal(http.StatusOK, code)
	s.NotEmpty(body["token"])

	code, body = s.request(http.MethodGet, "/api/v1/auth/me", token, nil)
	s.Equal(http.StatusOK, code)
	s.Equal("alice", body["user"].(map[string]interface{})["username"])
}

func (s *APITestSuite) TestLogoutRevokesToken() {
	token, _ := s.registerUser("alice")

	code, _ := s.request(http.MethodPost, "/api/v1/auth/logout", token, nil)
	s.Equal(http.StatusOK, code)

	code, _ = s.request(http.MethodGet, "/api/v1/auth/me", token, nil)
	s.Equal(http.StatusUnauthorized, code)
}

func (s *APITestSuite) TestUnauthenticatedRequestsRejected() {
	code, _ := s.request(http.MethodGet, "/api/v1/feed", "", nil)
	s.Equal(http.StatusUnauthorized, code)

	code, _ = s.request(http.MethodPost, "/api/v1/posts", "", gin.H{"content": "hi"})
	s.Equal(http.StatusUnauthorized, code)
}

func (s *APITestSuite) TestFollowProfileCounters() {
	aliceToken, _ := s.registerUser("alice")
	_, bobID := s.registerUser("bob")

	code, body := s.request(http.MethodPost, "/api/v1/users/"+bobID+"/follow", aliceToken, nil)
	s.Equal(http.StatusOK, code)
	s.Equal(true, body["following"])

	// second follow is a no-op
	code, _ = s.request(http.MethodPost, "/api/v1/users/"+bobID+"/follow", aliceToken, nil)
	s.Equal(http.StatusOK, code)

	code, body = s.request(http.MethodGet, "/api/v1/users/"+bobID, aliceToken, nil)
	s.Equal(http.StatusOK, code)
	s.Equal(float64(1), body["follower_count"])
	s.Equal(true, body["is_following"])

	code, _ = s.request(http.MethodDelete, "/api/v1/users/"+bobID+"/follow", aliceToken, nil)
	s.Equal(http.StatusOK, code)

	code, body = s.request(http.MethodGet, "/api/v1/users/"+bobID, aliceToken, nil)
	s.Equal(http.StatusOK, code)
	s.Equal(float64(0), body["follower_count"])
}

func (s *APITestSuite) TestSelfFollowRejected() {
	token, userID := s.registerUser("alice")

	code, body := s.request(http.MethodPost, "/api/v1/users/"+userID+"/follow", token, nil)
	s.Equal(http.StatusBadRequest, code)
	s.Equal("INVALID_OPERATION", body["error"].(map[string]interface{})["code"])
}

func (s *APITestSuite) TestPostLikeCommentFlow() {
	aliceToken, _ := s.registerUser("alice")
	bobToken, _ := s.registerUser("bob")

	code, body := s.request(http.MethodPost, "/api/v1/posts", bobToken, gin.H{
		"content":  "hello world",
		"hashtags": []string{"intro"},
	})
	s.Require().Equal(http.StatusCreated, code)
	postID := body["post"].(map[string]interface{})["id"].(string)

	code, body = s.request(http.MethodPost, "/api/v1/posts/"+postID+"/like", aliceToken, nil)
	s.Equal(http.StatusOK, code)
	s.Equal(true, body["liked"])
	s.Equal(float64(1), body["like_count"])

	code, body = s.request(http.MethodPost, "/api/v1/posts/"+postID+"/comments", aliceToken, gin.H{
		"content": "nice one",
	})
	s.Equal(http.StatusCreated, code)
	s.Equal("nice one", body["comment"].(map[string]interface{})["content"])

	code, body = s.request(http.MethodGet, "/api/v1/posts/"+postID, aliceToken, nil)
	s.Equal(http.StatusOK, code)
	post := body["post"].(map[string]interface{})
	s.Equal(float64(1), post["like_count"])
	s.Equal(float64(1), post["comment_count"])
	s.Equal(true, body["liked"])

	code, body = s.request(http.MethodGet, "/api/v1/posts/"+postID+"/comments", "", nil)
	s.Equal(http.StatusOK, code)
	s.Len(body["comments"], 1)
}

func (s *APITestSuite) TestLikeMissingPost() {
	token, _ := s.registerUser("alice")

	code, body := s.request(http.MethodPost, "/api/v1/posts/does-not-exist/like", token, nil)
	s.Equal(http.StatusNotFound, code)
	s.Equal("NOT_FOUND", body["error"].(map[string]interface{})["code"])
}

func (s *APITestSuite) TestFeedPagination() {
	aliceToken, _ := s.registerUser("alice")
	bobToken, bobID := s.registerUser("bob")

	code, _ := s.request(http.MethodPost, "/api/v1/users/"+bobID+"/follow", aliceToken, nil)
	s.Require().Equal(http.StatusOK, code)

	for _, content := range []string{"one", "two", "three"} {
		code, _ = s.request(http.MethodPost, "/api/v1/posts", bobToken, gin.H{"content": content})
		s.Require().Equal(http.StatusCreated, code)
		// distinct creation times keep the cursor ordering unambiguous
		time.Sleep(5 * time.Millisecond)
	}

	code, body := s.request(http.MethodGet, "/api/v1/feed?page_size=2", aliceToken, nil)
	s.Require().Equal(http.StatusOK, code)
	posts := body["posts"].([]interface{})
	s.Require().Len(posts, 2)
	s.Equal("three", posts[0].(map[string]interface{})["content"])
	s.Equal("two", posts[1].(map[string]interface{})["content"])
	s.Equal(true, body["has_more"])

	next := body["next_cursor"].(map[string]interface{})
	query := "cursor=" + url.QueryEscape(next["before"].(string)) +
		"&cursor_id=" + url.QueryEscape(next["last_id"].(string))
	code, body = s.request(http.MethodGet, "/api/v1/feed?page_size=2&"+query, aliceToken, nil)
	s.Require().Equal(http.StatusOK, code)
	posts = body["posts"].([]interface{})
	s.Require().Len(posts, 1)
	s.Equal("one", posts[0].(map[string]interface{})["content"])
}

func (s *APITestSuite) TestScheduledPostQueuesNothingVisible() {
	bobToken, bobID := s.registerUser("bob")

	when := time.Now().Add(time.Hour).Format(time.RFC3339)
	code, body := s.request(http.MethodPost, "/api/v1/posts", bobToken, gin.H{
		"content":    "later",
		"publish_at": when,
	})
	s.Require().Equal(http.StatusCreated, code)
	s.Equal(false, body["post"].(map[string]interface{})["is_published"])

	code, body = s.request(http.MethodGet, "/api/v1/users/"+bobID+"/posts", "", nil)
	s.Equal(http.StatusOK, code)
	s.Empty(body["posts"])
}

func (s *APITestSuite) TestDeleteOtherUsersPostForbidden() {
	aliceToken, _ := s.registerUser("alice")
	bobToken, _ := s.registerUser("bob")

	code, body := s.request(http.MethodPost, "/api/v1/posts", bobToken, gin.H{"content": "mine"})
	s.Require().Equal(http.StatusCreated, code)
	postID := body["post"].(map[string]interface{})["id"].(string)

	code, _ = s.request(http.MethodDelete, "/api/v1/posts/"+postID, aliceToken, nil)
	s.Equal(http.StatusForbidden, code)
}

func (s *APITestSuite) TestSearchUsers() {
	s.registerUser("alice")
	s.registerUser("alicia")
	s.registerUser("bob")

	code, body := s.request(http.MethodGet, "/api/v1/users/search?q=ali", "", nil)
	s.Equal(http.StatusOK, code)
	s.Len(body["users"], 2)
}

func (s *APITestSuite) TestUpdateProfile() {
	token, userID := s.registerUser("alice")

	code, body := s.request(http.MethodPut, "/api/v1/users/me", token, gin.H{
		"display_name": "Alice Cooper",
		"bio":          "plays in a band",
	})
	s.Equal(http.StatusOK, code)
	s.Equal("Alice Cooper", body["user"].(map[string]interface{})["display_name"])

	code, body = s.request(http.MethodGet, "/api/v1/users/"+userID, "", nil)
	s.Equal(http.StatusOK, code)
	s.Equal("plays in a band", body["user"].(map[string]interface{})["bio"])

	code, _ = s.request(http.MethodPut, "/api/v1/users/me", "", gin.H{"bio": "x"})
	s.Equal(http.StatusUnauthorized, code)
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
