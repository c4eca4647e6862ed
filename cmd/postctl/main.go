package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/d60-Lab/post-resolver/config"
	"github.com/d60-Lab/post-resolver/internal/identity"
	"github.com/d60-Lab/post-resolver/internal/repository"
)

type CLI struct {
	Config string `name:"config" help:"Path to config.yaml (default: ./config or current directory)"`

	Token     TokenCmd     `cmd:"" help:"Issue a development bearer token"`
	Provision ProvisionCmd `cmd:"" help:"Create the DynamoDB post table with both indexes"`
	Create    CreateCmd    `cmd:"" help:"Create a post through the GraphQL API"`
	Get       GetCmd       `cmd:"" help:"Fetch one post by id"`
	List      ListCmd      `cmd:"" help:"List posts, globally or for one owner"`
}

type TokenCmd struct {
	Username string        `arg:"" help:"Username claim of the token"`
	TTL      time.Duration `name:"ttl" help:"Token lifetime (default: jwt.token_ttl)"`
}

type ProvisionCmd struct{}

type EndpointFlags struct {
	Endpoint string `name:"endpoint" default:"http://localhost:8080/graphql" env:"POSTCTL_ENDPOINT" help:"GraphQL endpoint"`
	Token    string `name:"token" env:"POSTCTL_TOKEN" help:"Bearer token"`
}

type CreateCmd struct {
	EndpointFlags `embed:""`
	Content string `arg:"" help:"Post content"`
	Title   string `name:"title" help:"Post title"`
}

type GetCmd struct {
	EndpointFlags `embed:""`
	ID string `arg:"" help:"Post id"`
}

type ListCmd struct {
	EndpointFlags `embed:""`
	Owner     string `name:"owner" help:"Only posts of this owner"`
	Limit     int    `name:"limit" help:"Page size (server default 20)"`
	Desc      bool   `name:"desc" help:"Newest first"`
	NextToken string `name:"next-token" help:"Continuation token from a previous page"`
}

type kongExitCode int

type commandDeps struct {
	loadConfig func(path string) (*config.Config, error)
	provision  func(ctx context.Context, cfg *config.Config) error
	httpClient *http.Client
	out        io.Writer
	errOut     io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], defaultDeps()))
}

func defaultDeps() commandDeps {
	return commandDeps{
		loadConfig: loadConfig,
		provision:  provisionTable,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		out:        os.Stdout,
		errOut:     os.Stderr,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func run(args []string, deps commandDeps) (exitCode int) {
	cli := CLI{}
	parser, err := kong.New(
		&cli,
		kong.Name("postctl"),
		kong.Description("Operate the post resolver service."),
		kong.Writers(deps.out, deps.errOut),
		kong.Exit(func(code int) {
			panic(kongExitCode(code))
		}),
	)
	if err != nil {
		_, _ = fmt.Fprintf(deps.errOut, "Error: initialize command parser: %v\n", err)
		return 1
	}
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		code, ok := recovered.(kongExitCode)
		if !ok {
			panic(recovered)
		}
		exitCode = int(code)
	}()
	kctx, err := parser.Parse(args)
	if err != nil {
		_, _ = fmt.Fprintf(deps.errOut, "Error: %v\n", err)
		_, _ = fmt.Fprintln(deps.errOut, "Hint: run `postctl --help`.")
		return 1
	}

	ctx := context.Background()
	switch kctx.Command() {
	case "token <username>":
		err = runToken(cli, deps)
	case "provision":
		err = runProvision(ctx, cli, deps)
	case "create <content>":
		err = runGraphQL(ctx, deps, cli.Create.EndpointFlags, createMutation, map[string]any{
			"input": postInput(cli.Create.Title, cli.Create.Content),
		})
	case "get <id>":
		err = runGraphQL(ctx, deps, cli.Get.EndpointFlags, getQuery, map[string]any{"id": cli.Get.ID})
	case "list":
		err = runGraphQL(ctx, deps, cli.List.EndpointFlags, listQuery, listVariables(cli.List))
	default:
		err = fmt.Errorf("unknown command %q", kctx.Command())
	}
	if err != nil {
		_, _ = fmt.Fprintf(deps.errOut, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runToken(cli CLI, deps commandDeps) error {
	cfg, err := deps.loadConfig(cli.Config)
	if err != nil {
		return err
	}
	ttl := cli.Token.TTL
	if ttl <= 0 {
		ttl = cfg.JWT.TokenTTL
	}
	issuer, err := identity.NewIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, ttl)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(cli.Token.Username)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(deps.out, token)
	return nil
}

func runProvision(ctx context.Context, cli CLI, deps commandDeps) error {
	cfg, err := deps.loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if err := deps.provision(ctx, cfg); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(deps.out, "table %s ready\n", cfg.DynamoDB.Table)
	return nil
}

func provisionTable(ctx context.Context, cfg *config.Config) error {
	client, err := repository.NewDynamoDBClient(ctx, cfg.DynamoDB)
	if err != nil {
		return err
	}
	return repository.NewDynamoDBPostStore(client, cfg.DynamoDB.Table).EnsurePostTable(ctx)
}

const (
	postFields     = `id owner type timestamp title content`
	createMutation = `mutation($input: PostInput!) { createPost(input: $input) { ` + postFields + ` } }`
	getQuery       = `query($id: ID!) { getPost(id: $id) { ` + postFields + ` } }`
	listQuery      = `query($owner: String, $limit: Int, $dir: ModelSortDirection, $next: String) {
  listPosts(owner: $owner, limit: $limit, sortDirection: $dir, nextToken: $next) { items { ` + postFields + ` } nextToken }
}`
)

func postInput(title, content string) map[string]any {
	in := map[string]any{"content": content}
	if title != "" {
		in["title"] = title
	}
	return in
}

func listVariables(cmd ListCmd) map[string]any {
	vars := map[string]any{}
	if cmd.Owner != "" {
		vars["owner"] = cmd.Owner
	}
	if cmd.Limit > 0 {
		vars["limit"] = cmd.Limit
	}
	if cmd.Desc {
		vars["dir"] = "DESC"
	}
	if cmd.NextToken != "" {
		vars["next"] = cmd.NextToken
	}
	return vars
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// runGraphQL 发送一次 GraphQL 操作，缩进打印 data
func runGraphQL(ctx context.Context, deps commandDeps, flags EndpointFlags, query string, vars map[string]any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, flags.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if flags.Token != "" {
		req.Header.Set("Authorization", "Bearer "+flags.Token)
	}

	resp, err := deps.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Message)
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out.Data, "", "  "); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(deps.out, pretty.String())
	return nil
}
