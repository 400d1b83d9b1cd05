package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/tollgate/internal/gateway/domain"
	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// GitHub endpoints.
var GitHubEndpoint = oauth2.Endpoint{
	AuthURL:   "https://github.com/login/oauth/authorize",
	TokenURL:  "https://github.com/login/oauth/access_token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// githubScopes are the OAuth scopes needed to read the user, their private
// emails and their team memberships.
var githubScopes = []string{"read:org", "read:user", "user:email"}

type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	// CallbackURL is where GitHub sends the browser back to.
	CallbackURL string

	// Endpoint and APIBaseURL override the public GitHub URLs (tests,
	// GitHub Enterprise). APIBaseURL must end in a slash.
	Endpoint   oauth2.Endpoint
	APIBaseURL string

	HTTPClient *http.Client
}

// GitHub logs users in with GitHub OAuth. Team memberships become groups
// named {org}-{team-slug}; the organisation itself is also a group.
type GitHub struct {
	oauth      *oauth2.Config
	apiBase    *url.URL
	httpClient *http.Client
}

func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("github: client id and secret are required")
	}
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = GitHubEndpoint
	}

	g := &GitHub{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Endpoint:     endpoint,
			Scopes:       githubScopes,
		},
		httpClient: cfg.HTTPClient,
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if cfg.APIBaseURL != "" {
		u, err := url.Parse(cfg.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("github: api base url: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		g.apiBase = u
	}
	return g, nil
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) RedirectURL(_, state string) string {
	return g.oauth.AuthCodeURL(state)
}

func (g *GitHub) Exchange(ctx context.Context, code, state, expectedState string) (domain.Identity, error) {
	if err := checkState(state, expectedState); err != nil {
		return domain.Identity{}, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.Identity{}, upstreamError("github code exchange", err)
	}

	client := github.NewClient(g.oauth.Client(ctx, tok))
	if g.apiBase != nil {
		client.BaseURL = g.apiBase
	}

	var (
		user   *github.User
		emails []*github.UserEmail
		teams  []*github.Team
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		user, _, err = client.Users.Get(egCtx, "")
		return err
	})
	eg.Go(func() error {
		var err error
		emails, _, err = client.Users.ListEmails(egCtx, &github.ListOptions{PerPage: 100})
		return err
	})
	eg.Go(func() error {
		var err error
		teams, err = listAllTeams(egCtx, client)
		return err
	})
	if err := eg.Wait(); err != nil {
		return domain.Identity{}, upstreamError("github user lookup", err)
	}

	id := domain.Identity{
		Username: strings.ToLower(user.GetLogin()),
		Name:     user.GetName(),
		UID:      strconv.FormatInt(user.GetID(), 10),
		Email:    primaryEmail(emails),
		Groups:   teamGroups(teams),
	}
	return finishIdentity(id)
}

func listAllTeams(ctx context.Context, client *github.Client) ([]*github.Team, error) {
	opts := &github.ListOptions{PerPage: 100}
	var all []*github.Team
	for {
		page, resp, err := client.Teams.ListUserTeams(ctx, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

func primaryEmail(emails []*github.UserEmail) string {
	for _, e := range emails {
		if e.GetPrimary() && e.GetVerified() {
			return e.GetEmail()
		}
	}
	return ""
}

func teamGroups(teams []*github.Team) []string {
	groups := make([]string, 0, 2*len(teams))
	for _, t := range teams {
		org := strings.ToLower(t.GetOrganization().GetLogin())
		if org == "" || t.GetSlug() == "" {
			continue
		}
		groups = append(groups, org, org+"-"+t.GetSlug())
	}
	return groups
}
