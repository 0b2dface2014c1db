package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/raichat/social/feed"
	"github.com/raichat/social/monitoring"
	"github.com/raichat/social/profile"
	"github.com/raichat/social/storage"
	"github.com/raichat/social/utils"
)

type Server struct {
	manager  *storage.Manager
	engine   *feed.Engine
	plans    PlanService
	upgrader websocket.Upgrader
}

func NewServer(manager *storage.Manager, engine *feed.Engine, plans PlanService) *Server {
	return &Server{
		manager: manager,
		engine:  engine,
		plans:   plans,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Run() {
	mux := http.NewServeMux()
	mux.HandleFunc("/profile", s.handleProfile)
	mux.HandleFunc("/follow", s.handleFollow)
	mux.HandleFunc("/unfollow", s.handleUnfollow)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/feed/subscribe", s.handleSubscribe)
	mux.Handle("/metrics", promhttp.Handler())

	port := utils.IntFromString(os.Getenv("PORT"), 3333)
	err := http.ListenAndServe(
		fmt.Sprintf(":%d", port),
		monitoring.NewPrometheusMiddleware(mux),
	)
	if errors.Is(err, http.ErrServerClosed) {
		fmt.Printf("server closed\n")
	} else if err != nil {
		fmt.Printf("error starting server: %s\n", err)
		os.Exit(1)
	}
}

type profileResponse struct {
	Profile     any  `json:"profile"`
	IsFollowing bool `json:"is_following"`
}

// handleProfile serves the profile view on GET and the edit pipeline on
// POST. The viewer identity always arrives explicitly; there is no ambient
// session in this layer.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getProfile(w, r)
	case http.MethodPost:
		s.editProfile(w, r)
	default:
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	queryParams := r.URL.Query()
	id := getQueryItem(queryParams, "id")
	viewer := getQueryItem(queryParams, "viewer")
	if id == "" {
		sendError(w, http.StatusBadRequest, "missing id param")
		return
	}

	if viewer != "" {
		plan, err := s.plans.PlanFor(r.Context(), viewer)
		if err != nil {
			sendError(w, http.StatusInternalServerError, "plan lookup failed")
			return
		}
		if !plan.CanSubscribe() {
			sendError(w, http.StatusForbidden, "plan does not allow profile views")
			return
		}
	}

	p, err := s.manager.GetProfile(r.Context(), id)
	if err != nil {
		sendDomainError(w, err)
		return
	}

	isFollowing := false
	if viewer != "" && viewer != id {
		isFollowing, err = s.manager.IsFollowing(r.Context(), id, viewer)
		if err != nil {
			sendDomainError(w, err)
			return
		}
	}

	w.Write(utils.ToJson(profileResponse{Profile: p, IsFollowing: isFollowing}))
}

type editRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
	Bio         string `json:"bio"`
	AvatarRef   string `json:"avatar_ref"`
}

func (s *Server) editProfile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		sendError(w, http.StatusBadRequest, "missing profile id")
		return
	}

	updated, err := s.manager.EditProfile(r.Context(), req.ID, profile.Edit{
		DisplayName: req.DisplayName,
		Handle:      req.Handle,
		Bio:         req.Bio,
		AvatarRef:   req.AvatarRef,
	})
	if err != nil {
		sendDomainError(w, err)
		return
	}
	w.Write(utils.ToJson(updated))
}

type followRequest struct {
	FolloweeID string `json:"followee_id"`
	FollowerID string `json:"follower_id"`
}

type followResponse struct {
	FollowerCount int64 `json:"follower_count"`
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	s.applyFollow(w, r, "follow", s.manager.Follow)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	s.applyFollow(w, r, "unfollow", s.manager.Unfollow)
}

func (s *Server) applyFollow(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	apply func(ctx context.Context, followeeID, followerID string) (int64, error),
) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req followRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FolloweeID == "" || req.FollowerID == "" {
		sendError(w, http.StatusBadRequest, "missing followee_id or follower_id")
		return
	}

	count, err := apply(r.Context(), req.FolloweeID, req.FollowerID)
	if err != nil {
		monitoring.FollowOperations.WithLabelValues(operation, "error").Inc()
		sendDomainError(w, err)
		return
	}
	monitoring.FollowOperations.WithLabelValues(operation, "ok").Inc()
	w.Write(utils.ToJson(followResponse{FollowerCount: count}))
}

type settingRequest struct {
	UserID string `json:"user_id"`
	Key    string `json:"key"`
	Value  any    `json:"value"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		userID := getQueryItem(r.URL.Query(), "user")
		if userID == "" {
			sendError(w, http.StatusBadRequest, "missing user param")
			return
		}
		doc, err := s.manager.GetSettings(r.Context(), userID)
		if err != nil {
			sendDomainError(w, err)
			return
		}
		w.Write(doc)
	case http.MethodPost:
		var req settingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" || req.Key == "" {
			sendError(w, http.StatusBadRequest, "missing user_id or key")
			return
		}
		if err := s.manager.PutSetting(r.Context(), req.UserID, req.Key, req.Value); err != nil {
			sendDomainError(w, err)
			return
		}
		doc, err := s.manager.GetSettings(r.Context(), req.UserID)
		if err != nil {
			sendDomainError(w, err)
			return
		}
		w.Write(doc)
	default:
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSubscribe upgrades to a websocket and pushes new feed entries for
// the viewed profile until the client disconnects. The subscription opens
// at the live tail; history is served elsewhere.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	queryParams := r.URL.Query()
	profileID := getQueryItem(queryParams, "profile")
	viewerID := getQueryItem(queryParams, "viewer")
	if profileID == "" || viewerID == "" {
		sendError(w, http.StatusBadRequest, "missing profile or viewer param")
		return
	}

	plan, err := s.plans.PlanFor(r.Context(), viewerID)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "plan lookup failed")
		return
	}
	if !plan.CanSubscribe() {
		sendError(w, http.StatusForbidden, "plan does not allow profile feeds")
		return
	}

	if _, err := s.manager.GetProfile(r.Context(), profileID); err != nil {
		sendDomainError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Error upgrading feed connection: %v", err)
		return
	}

	sub := s.engine.Subscribe(viewerID, profileID, viewerID)
	monitoring.ActiveSubscriptions.Inc()

	go func() {
		defer monitoring.ActiveSubscriptions.Dec()
		defer conn.Close()
		for delivery := range sub.Deliveries() {
			if err := conn.WriteJSON(delivery); err != nil {
				log.Infof("Feed write to %s failed, closing subscription: %v", viewerID, err)
				sub.Close()
				return
			}
		}
	}()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()
}
