package directory

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/UlleongUlleong/server-sub000/internal/models"
	"gorm.io/gorm"
)

// 目录层通用错误，调用方用 errors.Is 映射到对外的失败通知。
var (
	ErrInvalidReference = errors.New("directory: referenced id does not exist")
	ErrValidation       = errors.New("directory: invalid room spec")
	ErrRoomNotFound     = errors.New("directory: room not found")
	ErrUserNotFound     = errors.New("directory: user not found or deactivated")
)

// RoomSpec 是创建房间的输入。
type RoomSpec struct {
	Name            string
	ThemeID         uint
	MaxParticipants int
	Description     string
	AlcoholIDs      []uint
	MoodIDs         []uint
}

// Directory 封装房间相关的校验与持久化，背后是关系型协作方。
type Directory struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// ValidateTheme 检查主题是否存在。
func (d *Directory) ValidateTheme(themeID uint) error {
	var count int64
	if err := d.db.Model(&models.Theme{}).Where("id = ?", themeID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrInvalidReference
	}
	return nil
}

// ValidateCategories 做集合成员检查：命中行数必须等于请求的 id 数，
// 请求里的重复 id 不单独拒绝，但会造成正当的数目不符。
func (d *Directory) ValidateCategories(alcoholIDs, moodIDs []uint) error {
	if len(alcoholIDs) > 0 {
		var count int64
		if err := d.db.Model(&models.AlcoholCategory{}).Where("id IN ?", alcoholIDs).Count(&count).Error; err != nil {
			return err
		}
		if count != int64(len(alcoholIDs)) {
			return ErrInvalidReference
		}
	}
	if len(moodIDs) > 0 {
		var count int64
		if err := d.db.Model(&models.MoodCategory{}).Where("id IN ?", moodIDs).Count(&count).Error; err != nil {
			return err
		}
		if count != int64(len(moodIDs)) {
			return ErrInvalidReference
		}
	}
	return nil
}

func validateSpec(spec RoomSpec) error {
	// 长度限制按字符数算，房间名多为韩文，按字节算会误伤。
	name := strings.TrimSpace(spec.Name)
	if name == "" || utf8.RuneCountInString(name) > 50 {
		return ErrValidation
	}
	if spec.MaxParticipants < 2 || spec.MaxParticipants > 10 {
		return ErrValidation
	}
	if utf8.RuneCountInString(spec.Description) > 200 {
		return ErrValidation
	}
	return nil
}

// CreateRoom 校验通过后在一个事务里落库：房间、房主参与者、分类关联。
// 任一步失败则全部回滚，不留半成品状态。
func (d *Directory) CreateRoom(creatorID uint, spec RoomSpec) (*models.Room, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	if err := d.ValidateTheme(spec.ThemeID); err != nil {
		return nil, err
	}
	if err := d.ValidateCategories(spec.AlcoholIDs, spec.MoodIDs); err != nil {
		return nil, err
	}
	room := models.Room{
		Name:            strings.TrimSpace(spec.Name),
		ThemeID:         spec.ThemeID,
		MaxParticipants: spec.MaxParticipants,
		Description:     spec.Description,
	}
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		// 创建者离开旧房间并成为新房间房主
		if err := tx.Where("user_id = ?", creatorID).Delete(&models.Participant{}).Error; err != nil {
			return err
		}
		host := models.Participant{RoomID: room.ID, UserID: creatorID, IsHost: true}
		if err := tx.Create(&host).Error; err != nil {
			return err
		}
		for _, id := range spec.AlcoholIDs {
			if err := tx.Create(&models.RoomAlcoholCategory{RoomID: room.ID, AlcoholCategoryID: id}).Error; err != nil {
				return err
			}
		}
		for _, id := range spec.MoodIDs {
			if err := tx.Create(&models.RoomMoodCategory{RoomID: room.ID, MoodCategoryID: id}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// Join 为 (room, user) 建立参与者记录。
// 先删掉该用户已有的参与记录并返回其房间 id（没有则为 0），
// 网关靠这个返回值清理旧广播组，保证一个用户只在一个房间。
func (d *Directory) Join(roomID, userID uint) (prevRoomID uint, err error) {
	var room models.Room
	if err := d.db.First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrRoomNotFound
		}
		return 0, err
	}
	err = d.db.Transaction(func(tx *gorm.DB) error {
		var prev models.Participant
		if err := tx.Where("user_id = ?", userID).First(&prev).Error; err == nil {
			prevRoomID = prev.RoomID
			if err := tx.Delete(&prev).Error; err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&models.Participant{RoomID: roomID, UserID: userID}).Error
	})
	if err != nil {
		return 0, err
	}
	return prevRoomID, nil
}

// Leave 删除用户的参与者记录并返回其所在房间 id。
// 用户本就不在任何房间时返回 (0, nil)：这是良性 no-op，不是错误。
func (d *Directory) Leave(userID uint) (uint, error) {
	var prev models.Participant
	if err := d.db.Where("user_id = ?", userID).First(&prev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if err := d.db.Delete(&prev).Error; err != nil {
		return 0, err
	}
	return prev.RoomID, nil
}

// ActiveUser 按 id 查找可用账号，软删除或停用的账号一律视为不存在。
func (d *Directory) ActiveUser(userID uint) (*models.User, error) {
	var user models.User
	if err := d.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Status != models.UserStatusActive {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// ListRooms 返回最近创建的房间。
func (d *Directory) ListRooms(limit int) ([]models.Room, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var rooms []models.Room
	if err := d.db.Order("id desc").Limit(limit).Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListThemes 返回全部主题。
func (d *Directory) ListThemes() ([]models.Theme, error) {
	var themes []models.Theme
	if err := d.db.Order("id").Find(&themes).Error; err != nil {
		return nil, err
	}
	return themes, nil
}

// ListCategories 返回全部酒类与氛围分类。
func (d *Directory) ListCategories() ([]models.AlcoholCategory, []models.MoodCategory, error) {
	var alcohols []models.AlcoholCategory
	if err := d.db.Order("id").Find(&alcohols).Error; err != nil {
		return nil, nil, err
	}
	var moods []models.MoodCategory
	if err := d.db.Order("id").Find(&moods).Error; err != nil {
		return nil, nil, err
	}
	return alcohols, moods, nil
}
