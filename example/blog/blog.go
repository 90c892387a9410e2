package main

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/graphql-go/graphql"

	"github.com/graphbind/graphbind/batchload"
	"github.com/graphbind/graphbind/execution"
)

type author struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type post struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	AuthorID int64  `json:"authorId"`
}

type comment struct {
	ID     int64  `json:"id"`
	PostID int64  `json:"postId"`
	Body   string `json:"body"`
}

// store is the in-memory backend. Reads fan out through batch loaders so
// a page of posts resolves authors and comments in one call each.
type store struct {
	mu       sync.Mutex
	authors  map[int64]*author
	posts    []*post
	comments map[int64][]*comment
	nextID   int64
}

func seedStore() *store {
	return &store{
		authors: map[int64]*author{
			1: {ID: 1, Name: "Ada Lovelace"},
			2: {ID: 2, Name: "Grace Hopper"},
		},
		posts: []*post{
			{ID: 1, Title: "Notes on the Analytical Engine", AuthorID: 1},
			{ID: 2, Title: "Compilers and You", AuthorID: 2},
			{ID: 3, Title: "More Notes", AuthorID: 1},
		},
		comments: map[int64][]*comment{
			1: {{ID: 1, PostID: 1, Body: "Fascinating."}},
			2: {{ID: 2, PostID: 2, Body: "A bug, you say?"}},
		},
		nextID: 100,
	}
}

func (s *store) allPosts() []*post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*post(nil), s.posts...)
}

func (s *store) postByID(id int64) *post {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.posts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// authorsByID is the mapped batch loader for Author.
func (s *store) authorsByID(ctx context.Context, ids []int64) (map[int64]*author, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*author, len(ids))
	for _, id := range ids {
		if a, ok := s.authors[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

// commentsByPost is the positional batch loader for a post's comments.
func (s *store) commentsByPost(ctx context.Context, postIDs []int64) ([][]*comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]*comment, len(postIDs))
	for i, id := range postIDs {
		cs := append([]*comment(nil), s.comments[id]...)
		sort.Slice(cs, func(a, b int) bool { return cs[a].ID < cs[b].ID })
		out[i] = cs
	}
	return out, nil
}

func (s *store) addComment(postID int64, body string) (*comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, p := range s.posts {
		if p.ID == postID {
			found = true
			break
		}
	}
	if !found {
		return nil, &execution.Error{
			Message: fmt.Sprintf("post %d not found", postID),
			Type:    execution.ErrorTypeNotFound,
			Meta:    map[string]any{"postId": postID},
		}
	}
	s.nextID++
	c := &comment{ID: s.nextID, PostID: postID, Body: body}
	s.comments[postID] = append(s.comments[postID], c)
	return c, nil
}

// broker fans new comments out to subscription streams. Slow subscribers
// drop events rather than stall the publisher.
type broker struct {
	mu   sync.Mutex
	subs map[int]chan any
	next int
}

func newBroker() *broker { return &broker{subs: make(map[int]chan any)} }

func (b *broker) subscribe() (ch chan any, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	ch = make(chan any, 16)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *broker) publish(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

func buildSchema(st *store, br *broker) graphql.SchemaConfig {
	authorType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Author",
		Fields: graphql.Fields{
			"id":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"name": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	commentType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Comment",
		Fields: graphql.Fields{
			"id":     &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"postId": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"body":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	postType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Post",
		Fields: graphql.Fields{
			"id":    &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"title": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"author": &graphql.Field{
				Type: authorType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					po := p.Source.(*post)
					loader, err := batchload.LoaderFor[int64, *author](p.Context)
					if err != nil {
						return nil, err
					}
					return loader.Load(po.AuthorID), nil
				},
			},
			"comments": &graphql.Field{
				Type: graphql.NewList(commentType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					po := p.Source.(*post)
					loader, err := batchload.NamedLoader[int64, []*comment](p.Context, "PostComments")
					if err != nil {
						return nil, err
					}
					return loader.Load(po.ID), nil
				},
			},
		},
	})
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"posts": &graphql.Field{
				Type: graphql.NewList(postType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return st.allPosts(), nil
				},
			},
			"post": &graphql.Field{
				Type: postType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := int64(p.Args["id"].(int))
					po := st.postByID(id)
					if po == nil {
						return nil, &execution.Error{
							Message: fmt.Sprintf("post %d not found", id),
							Type:    execution.ErrorTypeNotFound,
							Meta:    map[string]any{"postId": id},
						}
					}
					return po, nil
				},
			},
		},
	})
	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"addComment": &graphql.Field{
				Type: commentType,
				Args: graphql.FieldConfigArgument{
					"postId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
					"body":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					c, err := st.addComment(int64(p.Args["postId"].(int)), p.Args["body"].(string))
					if err != nil {
						return nil, err
					}
					br.publish(c)
					return c, nil
				},
			},
		},
	})
	subscriptionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"commentAdded": &graphql.Field{
				Type: commentType,
				Args: graphql.FieldConfigArgument{
					"postId": &graphql.ArgumentConfig{Type: graphql.Int},
				},
				Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
					var want int64
					if v, ok := p.Args["postId"].(int); ok {
						want = int64(v)
					}
					src, cancel := br.subscribe()
					out := make(chan any)
					go func() {
						defer close(out)
						defer cancel()
						for {
							select {
							case v, ok := <-src:
								if !ok {
									return
								}
								if want != 0 && v.(*comment).PostID != want {
									continue
								}
								select {
								case out <- v:
								case <-p.Context.Done():
									return
								}
							case <-p.Context.Done():
								return
							}
						}
					}()
					return out, nil
				},
			},
		},
	})
	return graphql.SchemaConfig{
		Query:        queryType,
		Mutation:     mutationType,
		Subscription: subscriptionType,
	}
}
