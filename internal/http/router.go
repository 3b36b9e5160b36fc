package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Schedules   *ScheduleHandler
	Occurrences *OccurrenceHandler
	Catalog     *CatalogHandler
	// Auth wraps every route except /healthz.
	Auth       func(http.Handler) http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	api := http.NewServeMux()

	if cfg.Schedules != nil {
		api.HandleFunc("/schedules", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Schedules.List(w, r)
			case http.MethodPost:
				cfg.Schedules.Create(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		api.HandleFunc("/schedules/", func(w http.ResponseWriter, r *http.Request) {
			parts := pathSegments(r.URL.Path, "/schedules/")
			if len(parts) == 0 {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithPathID(r.Context(), parts[0]))
			switch {
			case len(parts) == 1:
				switch r.Method {
				case http.MethodGet:
					cfg.Schedules.Get(w, r)
				case http.MethodPut:
					cfg.Schedules.Reconcile(w, r)
				case http.MethodDelete:
					cfg.Schedules.Delete(w, r)
				default:
					methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
				}
			case len(parts) == 2 && parts[1] == "occurrences":
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Schedules.Occurrences(w, r)
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Occurrences != nil {
		api.HandleFunc("/occurrences/", func(w http.ResponseWriter, r *http.Request) {
			parts := pathSegments(r.URL.Path, "/occurrences/")
			if len(parts) < 2 {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithPathID(r.Context(), parts[0]))
			switch {
			case len(parts) == 2 && parts[1] == "enrollments":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Occurrences.Enroll(w, r)
			case len(parts) == 3 && parts[1] == "enrollments":
				if r.Method != http.MethodDelete {
					methodNotAllowed(w, http.MethodDelete)
					return
				}
				cfg.Occurrences.Unenroll(w, r, parts[2])
			case len(parts) == 2 && parts[1] == "seats":
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Occurrences.Seats(w, r)
			case len(parts) == 2 && parts[1] == "attendance":
				switch r.Method {
				case http.MethodGet:
					cfg.Occurrences.History(w, r)
				case http.MethodPost:
					cfg.Occurrences.MarkAttendance(w, r)
				default:
					methodNotAllowed(w, http.MethodGet, http.MethodPost)
				}
			case len(parts) == 4 && parts[1] == "attendance" && parts[3] == "reopen":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Occurrences.Reopen(w, r, parts[2])
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Catalog != nil {
		api.HandleFunc("/coaches", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Catalog.ListCoaches(w, r)
			case http.MethodPost:
				cfg.Catalog.CreateCoach(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		api.HandleFunc("/coaches/", func(w http.ResponseWriter, r *http.Request) {
			parts := pathSegments(r.URL.Path, "/coaches/")
			if len(parts) != 1 {
				http.NotFound(w, r)
				return
			}
			if r.Method != http.MethodPatch {
				methodNotAllowed(w, http.MethodPatch)
				return
			}
			cfg.Catalog.SetCoachActive(w, r.WithContext(ContextWithPathID(r.Context(), parts[0])))
		})
		api.HandleFunc("/members/", func(w http.ResponseWriter, r *http.Request) {
			parts := pathSegments(r.URL.Path, "/members/")
			if len(parts) != 2 {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithPathID(r.Context(), parts[0]))
			switch parts[1] {
			case "packages":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Catalog.GrantPackage(w, r)
			case "package":
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Catalog.ActivePackage(w, r)
			default:
				http.NotFound(w, r)
			}
		})
	}

	var protected http.Handler = api
	if cfg.Auth != nil {
		protected = cfg.Auth(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		newResponder(nil).writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/", protected)

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

// pathSegments splits the path below prefix into its non-empty segments.
func pathSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	parts := strings.Split(rest, "/")
	for _, part := range parts {
		if part == "" {
			return nil
		}
	}
	return parts
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
