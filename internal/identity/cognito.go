package identity

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"

	"github.com/hpungsan/tcap/internal/db"
	"github.com/hpungsan/tcap/internal/errors"
)

// refreshSkew refreshes ID tokens slightly before they expire.
const refreshSkew = 30 * time.Second

// cognitoAPI is the subset of the Cognito user pool client tcap calls.
type cognitoAPI interface {
	SignUp(ctx context.Context, in *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, in *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
	ResendConfirmationCode(ctx context.Context, in *cip.ResendConfirmationCodeInput, optFns ...func(*cip.Options)) (*cip.ResendConfirmationCodeOutput, error)
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	GlobalSignOut(ctx context.Context, in *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
}

// Cognito is a Provider backed by an AWS Cognito user pool.
// The app client must be public (no secret) with USER_PASSWORD_AUTH enabled.
type Cognito struct {
	api      cognitoAPI
	clientID string
	store    *sql.DB
	logger   *slog.Logger
	now      func() time.Time
}

// NewCognito creates a provider for the given region and app client.
// Sessions are persisted in store.
func NewCognito(region, clientID string, store *sql.DB, logger *slog.Logger) *Cognito {
	client := cip.New(cip.Options{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
	})
	return newCognito(client, clientID, store, logger)
}

func newCognito(api cognitoAPI, clientID string, store *sql.DB, logger *slog.Logger) *Cognito {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cognito{
		api:      api,
		clientID: clientID,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// SignUp creates an unconfirmed user with the email attribute set.
func (c *Cognito) SignUp(ctx context.Context, email, password string) error {
	_, err := c.api.SignUp(ctx, &cip.SignUpInput{
		ClientId: aws.String(c.clientID),
		Username: aws.String(email),
		Password: aws.String(password),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
		},
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// ConfirmSignUp confirms a user with the emailed verification code.
func (c *Cognito) ConfirmSignUp(ctx context.Context, email, code string) error {
	_, err := c.api.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(c.clientID),
		Username:         aws.String(email),
		ConfirmationCode: aws.String(code),
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// ResendCode sends a new verification code to an unconfirmed user.
func (c *Cognito) ResendCode(ctx context.Context, email string) error {
	_, err := c.api.ResendConfirmationCode(ctx, &cip.ResendConfirmationCodeInput{
		ClientId: aws.String(c.clientID),
		Username: aws.String(email),
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// Authenticate exchanges credentials for tokens and persists them.
func (c *Cognito) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(c.clientID),
		AuthParameters: map[string]string{
			"USERNAME": email,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return nil, mapError(err)
	}
	res, err := authResult(out)
	if err != nil {
		return nil, err
	}
	return c.persist(ctx, email, res)
}

// CurrentSession loads the stored session and refreshes it once if the ID token expired.
func (c *Cognito) CurrentSession(ctx context.Context) (*Session, error) {
	stored, err := db.LoadSession(ctx, c.store, c.clientID)
	if stderrors.Is(err, db.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewAuth(errors.ReasonProvider, "failed to read stored session", err)
	}

	sess, err := sessionFromToken(stored.IDToken, stored.Username)
	if err == nil && !expiringSoon(sess, c.now(), refreshSkew) {
		return sess, nil
	}
	if stored.RefreshToken == "" {
		c.forget(ctx)
		return nil, nil
	}

	c.logger.Debug("refreshing id token", "username", stored.Username)
	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeRefreshTokenAuth,
		ClientId: aws.String(c.clientID),
		AuthParameters: map[string]string{
			"REFRESH_TOKEN": stored.RefreshToken,
		},
	})
	if err != nil {
		mapped := mapError(err)
		if errors.Reason(mapped) == errors.ReasonBadCredentials {
			// Refresh token revoked or expired
			c.forget(ctx)
		}
		return nil, mapped
	}
	res, err := authResult(out)
	if err != nil {
		return nil, err
	}
	return c.persist(ctx, stored.Username, res)
}

// SignOut deletes the stored session and then revokes its tokens remotely.
func (c *Cognito) SignOut(ctx context.Context) error {
	stored, err := db.LoadSession(ctx, c.store, c.clientID)
	if stderrors.Is(err, db.ErrNoSession) {
		return nil
	}
	c.forget(ctx)
	if err != nil {
		return errors.NewAuth(errors.ReasonProvider, "failed to read stored session", err)
	}

	_, err = c.api.GlobalSignOut(ctx, &cip.GlobalSignOutInput{
		AccessToken: aws.String(stored.AccessToken),
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// persist stores the tokens from res and returns the resulting session.
func (c *Cognito) persist(ctx context.Context, username string, res *types.AuthenticationResultType) (*Session, error) {
	idToken := aws.ToString(res.IdToken)
	sess, err := sessionFromToken(idToken, username)
	if err != nil {
		return nil, errors.NewAuth(errors.ReasonProvider, "identity provider returned an unreadable token", err)
	}

	err = db.SaveSession(ctx, c.store, &db.ProviderSession{
		ClientID:     c.clientID,
		Username:     username,
		IDToken:      idToken,
		AccessToken:  aws.ToString(res.AccessToken),
		RefreshToken: aws.ToString(res.RefreshToken),
		UpdatedAt:    c.now().Unix(),
	})
	if err != nil {
		// The in-memory session is still usable for this process.
		c.logger.Warn("failed to persist session", "error", err)
	}
	return sess, nil
}

func (c *Cognito) forget(ctx context.Context) {
	if err := db.DeleteSession(ctx, c.store, c.clientID); err != nil {
		c.logger.Warn("failed to delete stored session", "error", err)
	}
}

// authResult extracts tokens, rejecting flows that stop at a challenge.
func authResult(out *cip.InitiateAuthOutput) (*types.AuthenticationResultType, error) {
	if out.ChallengeName != "" {
		return nil, errors.NewAuth(errors.ReasonChallenge,
			fmt.Sprintf("sign-in requires %s, which tcap does not support", out.ChallengeName), nil)
	}
	if out.AuthenticationResult == nil || aws.ToString(out.AuthenticationResult.IdToken) == "" {
		return nil, errors.NewAuth(errors.ReasonProvider, "identity provider returned no tokens", nil)
	}
	return out.AuthenticationResult, nil
}

// mapError converts Cognito exceptions to AUTH errors with a reason.
func mapError(err error) error {
	var (
		exists      *types.UsernameExistsException
		badPassword *types.InvalidPasswordException
		notAuth     *types.NotAuthorizedException
		unconfirmed *types.UserNotConfirmedException
		mismatch    *types.CodeMismatchException
		expired     *types.ExpiredCodeException
		notFound    *types.UserNotFoundException
		limit       *types.LimitExceededException
		tooMany     *types.TooManyRequestsException
		apiErr      smithy.APIError
	)

	switch {
	case stderrors.As(err, &exists):
		return errors.NewAuth(errors.ReasonUserExists, "An account with this email already exists", err)
	case stderrors.As(err, &badPassword):
		return errors.NewAuth(errors.ReasonWeakPassword, passwordMessage(badPassword), err)
	case stderrors.As(err, &notAuth):
		return errors.NewAuth(errors.ReasonBadCredentials, "Incorrect email or password", err)
	case stderrors.As(err, &unconfirmed):
		return errors.NewAuth(errors.ReasonUnconfirmed, "Please verify your email before logging in", err)
	case stderrors.As(err, &mismatch):
		return errors.NewAuth(errors.ReasonCodeMismatch, "Invalid verification code", err)
	case stderrors.As(err, &expired):
		return errors.NewAuth(errors.ReasonCodeExpired, "Verification code has expired, request a new one", err)
	case stderrors.As(err, &notFound):
		return errors.NewAuth(errors.ReasonNoSuchUser, "No account found for this email", err)
	case stderrors.As(err, &limit), stderrors.As(err, &tooMany):
		return errors.NewAuth(errors.ReasonLimitExceeded, "Too many attempts, try again later", err)
	case stderrors.As(err, &apiErr):
		return errors.NewAuth(errors.ReasonProvider, apiErr.ErrorMessage(), err)
	default:
		// DNS, connection refused, context deadline
		return errors.NewAuth(errors.ReasonProvider, "Could not reach the identity provider: "+err.Error(), err)
	}
}

func passwordMessage(e *types.InvalidPasswordException) string {
	if msg := e.ErrorMessage(); msg != "" {
		return msg
	}
	return "Password does not meet requirements"
}
