package handler

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/post-resolver/internal/identity"
	"github.com/d60-Lab/post-resolver/internal/middleware"
	"github.com/d60-Lab/post-resolver/internal/pipeline"
	"github.com/d60-Lab/post-resolver/internal/repository"
	"github.com/d60-Lab/post-resolver/internal/service"
)

type testServer struct {
	engine *gin.Engine
	token  string
}

type gqlResult struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message    string                 `json:"message"`
		Extensions map[string]interface{} `json:"extensions"`
	} `json:"errors"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupServer(t *testing.T) *testServer {
	return setupServerWith(t, service.Deps{})
}

// setupServerWith 使用 deps 构建服务，Store 总是内存 sqlite
func setupServerWith(t *testing.T, deps service.Deps) *testServer {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := repository.NewSQLPostStore(db)
	require.NoError(t, store.InitSchema())

	deps.Store = store
	reg := service.NewPostRegistry(deps, nil, pipeline.LogNone)
	h, err := NewHandler(reg)
	require.NoError(t, err)

	verifier, err := identity.NewVerifier("test-secret", "", "")
	require.NoError(t, err)
	issuer, err := identity.NewIssuer("test-secret", "", "", time.Hour)
	require.NoError(t, err)
	token, err := issuer.Issue("alice")
	require.NoError(t, err)

	r := gin.New()
	r.Use(middleware.Identity(verifier))
	r.POST("/graphql", h.GraphQL)
	r.POST("/api/v1/posts", h.CreatePost)
	r.GET("/api/v1/posts", h.ListPosts)
	r.GET("/api/v1/posts/:id", h.GetPost)
	return &testServer{engine: r, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, auth bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) graphql(t *testing.T, query string, vars map[string]interface{}, auth bool) gqlResult {
	w := s.do(t, http.MethodPost, "/graphql", gin.H{"query": query, "variables": vars}, auth)
	require.Equal(t, http.StatusOK, w.Code)
	var res gqlResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

const createPostMutation = `mutation($input: PostInput!) {
  createPost(input: $input) { id owner type timestamp title content }
}`

func TestGraphQL_CreatePostRequiresUser(t *testing.T) {
	s := setupServer(t)

	res := s.graphql(t, createPostMutation, map[string]interface{}{"input": map[string]interface{}{"content": "hi"}}, false)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Not Authorized to access createPost on type Mutation", res.Errors[0].Message)
	assert.Equal(t, "Unauthorized", res.Errors[0].Extensions["errorType"])
	assert.JSONEq(t, "null", string(res.Data["createPost"]))

	// 未落库
	list := s.graphql(t, `{ listPosts { items { id } nextToken } }`, nil, false)
	assert.JSONEq(t, `{"items":[],"nextToken":null}`, string(list.Data["listPosts"]))
}

func TestGraphQL_CreateGetList(t *testing.T) {
	s := setupServer(t)

	var ids []string
	for _, content := range []string{"first", "second", "third"} {
		res := s.graphql(t, createPostMutation, map[string]interface{}{
			"input": map[string]interface{}{"title": "t", "content": content},
		}, true)
		require.Empty(t, res.Errors)
		var post struct {
			ID        string `json:"id"`
			Owner     string `json:"owner"`
			Type      string `json:"type"`
			Timestamp int64  `json:"timestamp"`
			Content   string `json:"content"`
		}
		require.NoError(t, json.Unmarshal(res.Data["createPost"], &post))
		assert.Equal(t, "alice", post.Owner)
		assert.Equal(t, "post", post.Type)
		assert.Equal(t, content, post.Content)
		assert.NotZero(t, post.Timestamp)
		ids = append(ids, post.ID)
	}

	got := s.graphql(t, `query($id: ID!) { getPost(id: $id) { id content } }`, map[string]interface{}{"id": ids[0]}, false)
	require.Empty(t, got.Errors)
	assert.JSONEq(t, `{"id":"`+ids[0]+`","content":"first"}`, string(got.Data["getPost"]))

	missing := s.graphql(t, `{ getPost(id: "nope") { id } }`, nil, false)
	require.Empty(t, missing.Errors)
	assert.JSONEq(t, "null", string(missing.Data["getPost"]))

	page := s.graphql(t, `{ listPosts(owner: "alice", limit: 2) { items { id } nextToken } }`, nil, false)
	require.Empty(t, page.Errors)
	var conn struct {
		Items     []struct{ ID string } `json:"items"`
		NextToken *string               `json:"nextToken"`
	}
	require.NoError(t, json.Unmarshal(page.Data["listPosts"], &conn))
	assert.Len(t, conn.Items, 2)
	require.NotNil(t, conn.NextToken)

	rest := s.graphql(t, `query($t: String) { listPosts(owner: "alice", limit: 2, nextToken: $t) { items { id } nextToken } }`,
		map[string]interface{}{"t": *conn.NextToken}, false)
	require.Empty(t, rest.Errors)
	assert.JSONEq(t, `{"items":[{"id":"`+ids[2]+`"}],"nextToken":null}`, string(rest.Data["listPosts"]))

	desc := s.graphql(t, `{ listPosts(sortDirection: DESC, limit: 1) { items { id } } }`, nil, false)
	require.Empty(t, desc.Errors)
	assert.Contains(t, string(desc.Data["listPosts"]), ids[2])
}

func TestGraphQL_TimestampBeyondInt32(t *testing.T) {
	at := time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC)
	s := setupServerWith(t, service.Deps{Now: func() time.Time { return at }})

	res := s.graphql(t, createPostMutation, map[string]interface{}{
		"input": map[string]interface{}{"content": "future"},
	}, true)
	require.Empty(t, res.Errors)
	var post struct {
		ID        string `json:"id"`
		Timestamp int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(res.Data["createPost"], &post))
	assert.Equal(t, at.Unix(), post.Timestamp)
	assert.Greater(t, post.Timestamp, int64(math.MaxInt32))

	got := s.graphql(t, `query($id: ID!) { getPost(id: $id) { timestamp } }`, map[string]interface{}{"id": post.ID}, false)
	require.Empty(t, got.Errors)
	assert.JSONEq(t, `{"timestamp":2208988800}`, string(got.Data["getPost"]))

	list := s.graphql(t, `{ listPosts { items { timestamp } } }`, nil, false)
	require.Empty(t, list.Errors)
	assert.JSONEq(t, `{"items":[{"timestamp":2208988800}]}`, string(list.Data["listPosts"]))
}

func TestTimestampScalar(t *testing.T) {
	assert.Equal(t, int64(2208988800), timestampScalar.Serialize(float64(2208988800)))
	assert.Equal(t, int64(2208988800), timestampScalar.ParseValue(2208988800))
	assert.Equal(t, int64(4102444800), timestampScalar.ParseLiteral(&ast.IntValue{Value: "4102444800"}))
	assert.Nil(t, timestampScalar.ParseLiteral(&ast.StringValue{Value: "soon"}))
	assert.Nil(t, timestampScalar.Serialize("soon"))
}

func TestGraphQL_InvalidArguments(t *testing.T) {
	s := setupServer(t)

	res := s.graphql(t, `{ listPosts(limit: 0) { items { id } } }`, nil, false)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "ValidationError", res.Errors[0].Extensions["errorType"])

	res = s.graphql(t, `{ listPosts(nextToken: "@@@") { items { id } } }`, nil, false)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "ValidationError", res.Errors[0].Extensions["errorType"])

	// content 为必填字段，schema 校验阶段即失败
	res = s.graphql(t, `mutation { createPost(input: {title: "x"}) { id } }`, nil, true)
	assert.NotEmpty(t, res.Errors)
}

func TestREST_Posts(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/posts", gin.H{"text": "hi"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/posts", gin.H{"text": "hi", "owner": "mallory"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	var created envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	var post map[string]interface{}
	require.NoError(t, json.Unmarshal(created.Data, &post))
	assert.Equal(t, "alice", post["owner"])
	assert.Equal(t, "hi", post["text"])

	id := post["id"].(string)
	w = s.do(t, http.MethodGet, "/api/v1/posts/"+id, nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var got envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.JSONEq(t, string(created.Data), string(got.Data))

	w = s.do(t, http.MethodGet, "/api/v1/posts/unknown", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":0,"message":"success","data":null}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/posts?owner=alice&sort_direction=DESC", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var list envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	var res repository.QueryResult
	require.NoError(t, json.Unmarshal(list.Data, &res))
	require.Len(t, res.Items, 1)
	assert.Equal(t, id, res.Items[0]["id"])
	assert.Nil(t, res.NextToken)

	for _, q := range []string{"limit=abc", "limit=0", "next_token=%40%40"} {
		w = s.do(t, http.MethodGet, "/api/v1/posts?"+q, nil, false)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}
