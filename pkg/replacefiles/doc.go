// Package replacefiles lets editors swap the file behind an existing media
// attachment without changing its identity.
//
// A replacement is uploaded as a child attachment of the one it replaces,
// travels through an approval workflow, and once approved is merged back into
// the original: descriptive fields are overlaid, the binary is copied over the
// original's object key, metadata is cloned, and the replacement record is
// deleted.
//
// Basic usage:
//
//	repo := memory.New()
//	store := memorystorage.New()
//	tokens := tokenmemory.New()
//
//	svc, err := replacefiles.New(
//		replacefiles.WithRepository(repo),
//		replacefiles.WithBlobStore("memory", store),
//		replacefiles.WithTokenStore(tokens),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// An admin page hands out a single-use token for the upload form.
//	token, _ := svc.IssueToken(ctx, replacefiles.PurposeOverrideStatus, caller.UserID)
//
//	replacement, err := svc.UploadReplacement(ctx, replacefiles.UploadReplacementRequest{
//		Caller:   caller,
//		ParentID: 10,
//		Token:    token,
//		FileName: "logo-v2.png",
//		Reader:   file,
//	})
//
//	// Later, once the approval workflow accepts the replacement:
//	err = svc.MergeReplacement(ctx, replacement.ID)
//
// Storage backends live in the storage subpackages, repositories in repo,
// single-use token stores in token, and the admin HTTP surface in api.
package replacefiles
