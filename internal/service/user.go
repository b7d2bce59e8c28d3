package service

import (
	"context"
	"errors"

	"github.com/UlleongUlleong/server-sub000/internal/models"
	"github.com/UlleongUlleong/server-sub000/internal/token"
	"github.com/UlleongUlleong/server-sub000/internal/verify"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Mailer 是凭证投递协作方的边界，真实投递在本核心职责之外。
type Mailer interface {
	SendVerificationCode(email, code string) error
}

// LogMailer 把验证码打进日志，开发环境用。
type LogMailer struct{}

func (LogMailer) SendVerificationCode(email, code string) error {
	log.Info().Str("email", email).Str("code", code).Msg("verification code issued")
	return nil
}

// UserService 封装账号相关的业务逻辑。
type UserService struct {
	db     *gorm.DB
	tokens *token.Manager
	codes  *verify.Codes
	mailer Mailer
}

func NewUserService(db *gorm.DB, tokens *token.Manager, codes *verify.Codes, mailer Mailer) *UserService {
	return &UserService{db: db, tokens: tokens, codes: codes, mailer: mailer}
}

func hashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func verifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// RegisterResult 注册成功后返回的数据。
type RegisterResult struct {
	ID       uint   `json:"id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// Register 注册新账号并触发邮箱验证码投递。
func (s *UserService) Register(ctx context.Context, email, nickname, password string) (*RegisterResult, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	if err := s.db.Model(&models.User{}).Where("nickname = ?", nickname).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrNicknameTaken
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{Email: email, Nickname: nickname, PasswordHash: hash, Status: models.UserStatusActive}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	code, err := s.codes.Issue(ctx, email)
	if err != nil {
		// 注册本身已成功，验证码可以重发
		log.Warn().Err(err).Str("email", email).Msg("issue verification code")
	} else if err := s.mailer.SendVerificationCode(email, code); err != nil {
		log.Warn().Err(err).Str("email", email).Msg("send verification code")
	}
	return &RegisterResult{ID: user.ID, Email: user.Email, Nickname: user.Nickname}, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"-"`
}

// Login 校验邮箱密码并签发凭证对。
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("email = ? AND status = ?", email, models.UserStatusActive).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !verifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return nil, err
	}
	rt, err := s.tokens.IssueRefreshToken(ctx, user.ID, at)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: user}, nil
}

// Refresh 用旧 access token 旋转出新凭证对。
func (s *UserService) Refresh(ctx context.Context, oldAccessToken string) (*token.RefreshResult, error) {
	return s.tokens.Refresh(ctx, oldAccessToken)
}

// Logout 吊销 access token 的旋转能力。
func (s *UserService) Logout(ctx context.Context, accessToken string) error {
	return s.tokens.Revoke(ctx, accessToken)
}

// RequestVerification 重新签发验证码并投递。
func (s *UserService) RequestVerification(ctx context.Context, email string) error {
	code, err := s.codes.Issue(ctx, email)
	if err != nil {
		return err
	}
	return s.mailer.SendVerificationCode(email, code)
}

// ConfirmVerification 校验验证码并把账号标记为已验证。
func (s *UserService) ConfirmVerification(ctx context.Context, email, code string) error {
	if err := s.codes.Confirm(ctx, email, code); err != nil {
		return err
	}
	return s.db.Model(&models.User{}).Where("email = ?", email).Update("email_verified", true).Error
}
