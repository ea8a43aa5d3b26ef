package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER LEARNER COMMAND
// Creates the identity, the profile record and the initial fluency level.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterLearnerCommand contains the signup data. Caller is empty for
// self-signup; only a teacher caller may register another teacher.
type RegisterLearnerCommand struct {
	Caller   identity.Caller `validate:"-"`
	Email    string          `validate:"required,email,max=254"`
	Password string          `validate:"required,min=6,max=72"`
	Name     string          `validate:"required,max=100"`
	Role     string          `validate:"omitempty,oneof=student teacher"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the command.
func (c RegisterLearnerCommand) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return shared.WrapError("identity", "Register", shared.ErrInvalidInput, "Invalid input", err)
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	msg := "Invalid " + strings.Join(fields, ", ")
	return shared.WrapError("identity", "Register", shared.ErrInvalidInput, msg, err)
}

// RegisterLearnerResult contains the new learner.
type RegisterLearnerResult struct {
	UserID  string
	Profile *fluency.Profile
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RegisterLearnerHandler handles RegisterLearnerCommand.
type RegisterLearnerHandler struct {
	provisioner identity.Provisioner
	profiles    fluency.ProfileRepository
	initializer *InitializeFluencyHandler
	clock       timeutil.Clock
	publisher   shared.EventPublisher
	log         *logger.Logger
}

// NewRegisterLearnerHandler creates a new RegisterLearnerHandler.
func NewRegisterLearnerHandler(
	provisioner identity.Provisioner,
	profiles fluency.ProfileRepository,
	initializer *InitializeFluencyHandler,
	clock timeutil.Clock,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *RegisterLearnerHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RegisterLearnerHandler{
		provisioner: provisioner,
		profiles:    profiles,
		initializer: initializer,
		clock:       clock,
		publisher:   publisher,
		log:         log.With(logger.Component("register_learner")),
	}
}

// Handle executes the command. If the profile cannot be initialized after the
// identity exists, the profile is still readable and lazy migration assigns
// the level on first read.
func (h *RegisterLearnerHandler) Handle(ctx context.Context, cmd RegisterLearnerCommand) (*RegisterLearnerResult, error) {
	cmd.Email = strings.ToLower(strings.TrimSpace(cmd.Email))
	cmd.Name = strings.TrimSpace(cmd.Name)
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	role := identity.ParseRole(cmd.Role)
	if role == identity.RoleTeacher && !cmd.Caller.IsTeacher() {
		h.log.Warn("teacher signup rejected",
			logger.Email(cmd.Email),
			logger.ActorID(cmd.Caller.UserID),
		)
		return nil, shared.ErrTeacherRoleRequired
	}

	userID, err := h.provisioner.CreateAccount(ctx, identity.NewAccount{
		Email:    cmd.Email,
		Password: cmd.Password,
		Name:     cmd.Name,
		Role:     role,
	})
	if err != nil {
		return nil, err
	}
	if !shared.ValidID(userID) {
		return nil, fmt.Errorf("register_learner: provider returned unusable id %q", userID)
	}

	now := h.clock.Now()
	profile := fluency.NewProfile(userID, cmd.Name, cmd.Email, role, now)
	if err := h.profiles.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("register_learner: save profile: %w", err)
	}

	initRes, err := h.initializer.Handle(ctx, InitializeFluencyCommand{
		UserID: userID,
		Actor:  identity.System(),
		Reason: fluency.ReasonInitialAssignment,
	})
	if err != nil {
		h.log.Warn("initial fluency assignment deferred", logger.UserID(userID), logger.Err(err))
	} else {
		profile = initRes.Profile
	}

	h.log.Info("learner registered",
		logger.UserID(userID),
		logger.Email(cmd.Email),
		logger.String("role", role.String()),
	)
	_ = h.publisher.Publish(shared.NewLearnerRegisteredEvent(userID, cmd.Email, cmd.Name, role.String(), now))

	return &RegisterLearnerResult{UserID: userID, Profile: profile}, nil
}
