package orchestrator

import (
	"github.com/shaiso/Forge/internal/domain"
)

// Router выбирает очередь сборки для вызывающего.
//
// Порядок разрешения: для неаутентифицированного вызывающего — очередь
// по умолчанию; иначе сначала метка "SERIAL:"/"PARALLEL:" + имя
// пользователя, затем голое имя, затем очередь по умолчанию.
// Перезапись индекса идёт через серийную метку: две перезаписи одного
// индекса не должны гоняться на разных воркерах.
type Router struct {
	defaultQueue    string
	userToQueue     map[string]string
	forceOverwrite  bool
	privilegedUsers []string
}

// RouterConfig — конфигурация Router.
type RouterConfig struct {
	// DefaultQueue — очередь по умолчанию.
	DefaultQueue string

	// UserToQueue — отображение меток пользователей на очереди.
	// Ключи: "SERIAL:<user>", "PARALLEL:<user>" или "<user>".
	UserToQueue map[string]string

	// ForceOverwrite — глобальный флаг принудительной перезаписи индекса.
	ForceOverwrite bool

	// PrivilegedUsers — пользователи, которым ForceOverwrite включает
	// серийное выполнение даже без перезаписи в payload.
	PrivilegedUsers []string
}

// NewRouter создаёт новый Router.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		defaultQueue:    cfg.DefaultQueue,
		userToQueue:     cfg.UserToQueue,
		forceOverwrite:  cfg.ForceOverwrite,
		privilegedUsers: cfg.PrivilegedUsers,
	}
}

// Route возвращает очередь для вызывающего при явно заданной серийности.
func (r *Router) Route(caller domain.CallerContext, serial bool) string {
	if !caller.Authenticated {
		return r.defaultQueue
	}

	prefix := "PARALLEL:"
	if serial {
		prefix = "SERIAL:"
	}

	if q, ok := r.userToQueue[prefix+caller.Identity]; ok {
		return q
	}
	if q, ok := r.userToQueue[caller.Identity]; ok {
		return q
	}
	return r.defaultQueue
}

// RouteFor возвращает очередь для запроса, выводя серийность из payload
// и привилегий вызывающего.
func (r *Router) RouteFor(caller domain.CallerContext, overwrite bool) string {
	return r.Route(caller, r.RequiresSerial(caller, overwrite))
}

// RequiresSerial решает, обязательна ли серийная очередь: перезапись
// запрошена в payload либо привилегированному пользователю включена
// принудительная перезапись.
func (r *Router) RequiresSerial(caller domain.CallerContext, overwrite bool) bool {
	if overwrite {
		return true
	}
	return r.ForcesOverwrite(caller)
}

// ForcesOverwrite сообщает, включена ли для вызывающего принудительная
// перезапись индекса независимо от payload.
func (r *Router) ForcesOverwrite(caller domain.CallerContext) bool {
	if !r.forceOverwrite || !caller.Authenticated {
		return false
	}
	for _, u := range r.privilegedUsers {
		if u == caller.Identity {
			return true
		}
	}
	return false
}
